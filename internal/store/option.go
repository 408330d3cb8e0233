package store

import "time"

// Option customizes a SessionStore.
type Option func(s *SessionStore)

// WithClock replaces the wall clock used for every TTL decision.
func WithClock(now func() time.Time) Option {
	return func(s *SessionStore) {
		if now != nil {
			s.now = now
		}
	}
}
