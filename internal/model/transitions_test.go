package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     SessionStatus
		to       SessionStatus
		expected bool
	}{
		{"pending to approved", SessionStatusPending, SessionStatusApproved, true},
		{"pending to rejected", SessionStatusPending, SessionStatusRejected, true},
		{"pending to error", SessionStatusPending, SessionStatusError, true},
		{"pending cannot skip to awaiting verification", SessionStatusPending, SessionStatusAwaitingVerification, false},
		{"pending cannot skip to code correct", SessionStatusPending, SessionStatusCodeCorrect, false},
		{"approved to awaiting verification", SessionStatusApproved, SessionStatusAwaitingVerification, true},
		{"approved cannot be rejected later", SessionStatusApproved, SessionStatusRejected, false},
		{"approved cannot skip to code correct", SessionStatusApproved, SessionStatusCodeCorrect, false},
		{"awaiting to code correct", SessionStatusAwaitingVerification, SessionStatusCodeCorrect, true},
		{"awaiting to code incorrect", SessionStatusAwaitingVerification, SessionStatusCodeIncorrect, true},
		{"awaiting to no balance", SessionStatusAwaitingVerification, SessionStatusNoBalance, true},
		{"awaiting to card rejected", SessionStatusAwaitingVerification, SessionStatusCardRejected, true},
		{"awaiting cannot resubmit", SessionStatusAwaitingVerification, SessionStatusAwaitingVerification, false},
		{"incorrect code can be retried", SessionStatusCodeIncorrect, SessionStatusAwaitingVerification, true},
		{"code correct is final", SessionStatusCodeCorrect, SessionStatusAwaitingVerification, false},
		{"rejected is final", SessionStatusRejected, SessionStatusApproved, false},
		{"error is final", SessionStatusError, SessionStatusApproved, false},
		{"unknown status", SessionStatus("bogus"), SessionStatusApproved, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CanTransition(tc.from, tc.to))
		})
	}
}

func TestSessionStatus(t *testing.T) {
	t.Run("terminal states", func(t *testing.T) {
		for _, s := range []SessionStatus{
			SessionStatusCodeCorrect, SessionStatusCodeIncorrect, SessionStatusNoBalance,
			SessionStatusCardRejected, SessionStatusRejected, SessionStatusError,
		} {
			assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		}
	})

	t.Run("non terminal states", func(t *testing.T) {
		for _, s := range []SessionStatus{
			SessionStatusPending, SessionStatusApproved, SessionStatusAwaitingVerification,
		} {
			assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
		}
	})

	t.Run("valid rejects unknown values", func(t *testing.T) {
		assert.True(t, SessionStatusApproved.Valid())
		assert.False(t, SessionStatus("expired").Valid())
	})
}

func TestVerificationResultStatus(t *testing.T) {
	tests := []struct {
		result   VerificationResult
		expected SessionStatus
	}{
		{VerificationCorrect, SessionStatusCodeCorrect},
		{VerificationIncorrect, SessionStatusCodeIncorrect},
		{VerificationNoBalance, SessionStatusNoBalance},
		{VerificationRejected, SessionStatusCardRejected},
	}

	for _, tc := range tests {
		t.Run(string(tc.result), func(t *testing.T) {
			status, ok := tc.result.Status()
			assert.True(t, ok)
			assert.Equal(t, tc.expected, status)
		})
	}

	t.Run("unknown result", func(t *testing.T) {
		_, ok := VerificationResult("maybe").Status()
		assert.False(t, ok)
		assert.False(t, VerificationResult("maybe").Valid())
	})
}

func TestCheckoutMetaOverlay(t *testing.T) {
	base := CheckoutMeta{CustomerName: "Ada", Amount: 1000, Installments: 1, CardLast4: "4242"}

	t.Run("nil amendment keeps snapshot", func(t *testing.T) {
		assert.Equal(t, base, base.Overlay(nil))
	})

	t.Run("non-zero fields override", func(t *testing.T) {
		out := base.Overlay(&CheckoutMeta{Amount: 1200, Installments: 3})
		assert.Equal(t, "Ada", out.CustomerName)
		assert.Equal(t, int64(1200), out.Amount)
		assert.Equal(t, 3, out.Installments)
		assert.Equal(t, "4242", out.CardLast4)
	})

	t.Run("effective meta on session", func(t *testing.T) {
		s := &Session{Meta: base, Amendment: &CheckoutMeta{CardBrand: "visa"}}
		assert.Equal(t, "visa", s.EffectiveMeta().CardBrand)
		assert.Equal(t, int64(1000), s.EffectiveMeta().Amount)
	})

	t.Run("clone does not share amendment", func(t *testing.T) {
		s := &Session{Meta: base, Amendment: &CheckoutMeta{CardBrand: "visa"}}
		c := s.Clone()
		c.Amendment.CardBrand = "amex"
		assert.Equal(t, "visa", s.Amendment.CardBrand)
	})
}
