// Package store keeps checkout approval sessions in process memory.
//
// Every entry expires a fixed TTL after creation regardless of its status.
// Reads re-check age and evict lazily, and a periodic sweep removes entries
// nobody reads, so no caller ever observes a session older than the TTL.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paynow/approval-server/internal/jobs"
	"github.com/paynow/approval-server/internal/model"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultActivationTTL = 5 * time.Minute
	DefaultCodeLength    = 6
	MinCodeLength        = 4
	MaxCodeLength        = 6
)

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	ActivationTTL time.Duration
	CodeLength    int
}

type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*model.Session
	activations map[string]*model.ActivationCode

	ttl           time.Duration
	sweepInterval time.Duration
	activationTTL time.Duration
	codeLength    int
	now           func() time.Time

	sweeper *jobs.CleanupJob
}

func New(cfg Config, opts ...Option) *SessionStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.ActivationTTL <= 0 {
		cfg.ActivationTTL = DefaultActivationTTL
	}
	if cfg.ActivationTTL > cfg.TTL {
		cfg.ActivationTTL = cfg.TTL
	}
	if cfg.CodeLength < MinCodeLength || cfg.CodeLength > MaxCodeLength {
		cfg.CodeLength = DefaultCodeLength
	}

	s := &SessionStore{
		sessions:      make(map[string]*model.Session),
		activations:   make(map[string]*model.ActivationCode),
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		activationTTL: cfg.ActivationTTL,
		codeLength:    cfg.CodeLength,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sweeper = jobs.NewCleanupJob("session store", s.sweepInterval).
		Add("checkout sessions", func(ctx context.Context) (int64, error) {
			return s.Sweep(), nil
		})

	return s
}

func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Start launches the periodic sweep.
func (s *SessionStore) Start() {
	s.sweeper.Start()
}

// Stop halts the periodic sweep. Entries stay in memory.
func (s *SessionStore) Stop() {
	s.sweeper.Stop()
}

// CreatePending inserts a pending session, replacing any entry for id.
func (s *SessionStore) CreatePending(id string, meta model.CheckoutMeta) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := &model.Session{
		ID:        id,
		Status:    model.SessionStatusPending,
		Meta:      meta,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[id] = session

	log.Debug().Str("sessionId", id).Msg("pending session stored")
	return session.Clone()
}

// SetStatus moves a live session to status. It returns nil when the session
// is absent, expired, or the move is not an edge of the state machine.
func (s *SessionStore) SetStatus(id string, status model.SessionStatus, reason string) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.liveLocked(id)
	if session == nil || !model.CanTransition(session.Status, status) {
		return nil
	}

	session.Status = status
	if reason != "" {
		session.RejectionReason = reason
	}
	s.touchLocked(session)
	return session.Clone()
}

func (s *SessionStore) GetStatus(id string) (model.SessionStatus, bool) {
	status, _, ok := s.GetStatusWithReason(id)
	return status, ok
}

func (s *SessionStore) GetStatusWithReason(id string) (model.SessionStatus, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.liveLocked(id)
	if session == nil {
		return "", "", false
	}
	return session.Status, session.RejectionReason, true
}

func (s *SessionStore) GetRecord(id string) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.liveLocked(id)
	if session == nil {
		return nil
	}
	return session.Clone()
}

// SetVerificationCode records a submitted one-time code. Only an approved
// session, or one whose previous code was judged incorrect, accepts a code;
// anything else is a silent no-op returning nil.
func (s *SessionStore) SetVerificationCode(id, code string, amendment *model.CheckoutMeta) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.liveLocked(id)
	if session == nil || !model.CanTransition(session.Status, model.SessionStatusAwaitingVerification) {
		return nil
	}

	session.Status = model.SessionStatusAwaitingVerification
	session.VerificationCode = code
	session.VerificationResult = ""
	if amendment != nil {
		a := *amendment
		session.Amendment = &a
	}
	s.touchLocked(session)
	return session.Clone()
}

// SetVerificationResult records the judgement of the submitted code and
// advances the session to the matching outcome state.
func (s *SessionStore) SetVerificationResult(id string, result model.VerificationResult) *model.Session {
	status, ok := result.Status()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.liveLocked(id)
	if session == nil || session.Status != model.SessionStatusAwaitingVerification {
		return nil
	}

	session.Status = status
	session.VerificationResult = result
	s.touchLocked(session)
	return session.Clone()
}

// Clear removes the session and its activation code. Absent ids are ignored.
func (s *SessionStore) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	delete(s.activations, id)
}

// Sweep removes every expired session and activation code.
func (s *SessionStore) Sweep() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for id, session := range s.sessions {
		if s.expired(session, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	for id, ac := range s.activations {
		if !now.Before(ac.ExpiresAt) {
			delete(s.activations, id)
			removed++
		}
	}
	return removed
}

// Size reports the number of session entries held, expired ones included.
func (s *SessionStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ActivationSize reports the number of activation codes held, expired ones included.
func (s *SessionStore) ActivationSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activations)
}

// liveLocked returns the session for id, evicting it if it has expired.
func (s *SessionStore) liveLocked(id string) *model.Session {
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.expired(session, s.now()) {
		delete(s.sessions, id)
		return nil
	}
	return session
}

func (s *SessionStore) touchLocked(session *model.Session) {
	session.Version++
	session.UpdatedAt = s.now()
}

// A session is gone once its age reaches the TTL.
func (s *SessionStore) expired(session *model.Session, now time.Time) bool {
	return now.Sub(session.CreatedAt) >= s.ttl
}
