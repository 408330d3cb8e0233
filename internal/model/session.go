package model

import (
	"time"
)

// CheckoutMeta is the checkout context captured when approval is requested.
// Contact details arrive already masked by the caller.
type CheckoutMeta struct {
	CustomerName  string `json:"customerName,omitempty"`
	MaskedEmail   string `json:"maskedEmail,omitempty"`
	MaskedPhone   string `json:"maskedPhone,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	Installments  int    `json:"installments,omitempty"`
	CardHolder    string `json:"cardHolder,omitempty"`
	CardLast4     string `json:"cardLast4,omitempty"`
	CardBrand     string `json:"cardBrand,omitempty"`
}

// Overlay returns m with every non-zero field of other applied on top.
func (m CheckoutMeta) Overlay(other *CheckoutMeta) CheckoutMeta {
	if other == nil {
		return m
	}
	out := m
	if other.CustomerName != "" {
		out.CustomerName = other.CustomerName
	}
	if other.MaskedEmail != "" {
		out.MaskedEmail = other.MaskedEmail
	}
	if other.MaskedPhone != "" {
		out.MaskedPhone = other.MaskedPhone
	}
	if other.Amount != 0 {
		out.Amount = other.Amount
	}
	if other.Currency != "" {
		out.Currency = other.Currency
	}
	if other.PaymentMethod != "" {
		out.PaymentMethod = other.PaymentMethod
	}
	if other.Installments != 0 {
		out.Installments = other.Installments
	}
	if other.CardHolder != "" {
		out.CardHolder = other.CardHolder
	}
	if other.CardLast4 != "" {
		out.CardLast4 = other.CardLast4
	}
	if other.CardBrand != "" {
		out.CardBrand = other.CardBrand
	}
	return out
}

type Session struct {
	ID                 string             `json:"id"`
	Status             SessionStatus      `json:"status"`
	Meta               CheckoutMeta       `json:"meta"`
	Amendment          *CheckoutMeta      `json:"amendment,omitempty"`
	VerificationCode   string             `json:"-"`
	VerificationResult VerificationResult `json:"verificationResult,omitempty"`
	RejectionReason    string             `json:"rejectionReason,omitempty"`
	Version            int64              `json:"version"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// EffectiveMeta is the creation snapshot reconciled with values the client
// resent on later steps.
func (s *Session) EffectiveMeta() CheckoutMeta {
	return s.Meta.Overlay(s.Amendment)
}

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	out := *s
	if s.Amendment != nil {
		a := *s.Amendment
		out.Amendment = &a
	}
	return &out
}
