package store

import (
	"crypto/subtle"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/paynow/approval-server/internal/model"
)

const activationCodeDigits = "0123456789"

// MaxActivationAttempts is how many wrong codes a session may try before
// its code is burned and only a newly issued one can verify.
const MaxActivationAttempts = 5

// CreateActivationCode issues a numeric code bound to id and phone. A session
// holds at most one active code, so a new code replaces the previous one.
// The code never outlives the session it is bound to.
func (s *SessionStore) CreateActivationCode(id, phone string, meta map[string]any) (*model.ActivationCode, error) {
	code, err := gonanoid.Generate(activationCodeDigits, s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generate activation code: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expiresAt := now.Add(s.activationTTL)
	if session := s.liveLocked(id); session != nil {
		if sessionEnd := session.CreatedAt.Add(s.ttl); sessionEnd.Before(expiresAt) {
			expiresAt = sessionEnd
		}
	}

	ac := &model.ActivationCode{
		SessionID: id,
		Phone:     phone,
		Code:      code,
		Meta:      meta,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	s.activations[id] = ac

	log.Debug().
		Str("sessionId", id).
		Time("expiresAt", expiresAt).
		Msg("activation code stored")

	out := *ac
	return &out, nil
}

// VerifyActivationCode checks code against the one issued for id. A code
// verifies successfully at most once and accepts at most
// MaxActivationAttempts wrong guesses; later attempts report a mismatch.
func (s *SessionStore) VerifyActivationCode(id, code string) model.ActivationVerifyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.activations[id]
	if !ok {
		return model.ActivationVerifyResult{Reason: model.ActivationReasonSessionNotFound}
	}

	now := s.now()
	if !now.Before(ac.ExpiresAt) {
		delete(s.activations, id)
		return model.ActivationVerifyResult{Reason: model.ActivationReasonExpired}
	}

	if ac.UsedAt != nil || ac.Attempts >= MaxActivationAttempts {
		return model.ActivationVerifyResult{Reason: model.ActivationReasonMismatch}
	}
	if subtle.ConstantTimeCompare([]byte(ac.Code), []byte(code)) != 1 {
		ac.Attempts++
		if ac.Attempts == MaxActivationAttempts {
			log.Warn().Str("sessionId", id).Msg("activation code burned after too many wrong attempts")
		}
		return model.ActivationVerifyResult{Reason: model.ActivationReasonMismatch}
	}

	usedAt := now
	ac.UsedAt = &usedAt
	return model.ActivationVerifyResult{Valid: true}
}
