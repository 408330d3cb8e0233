package model

import "time"

type ActivationCode struct {
	SessionID string         `json:"sessionId"`
	Phone     string         `json:"phone"`
	Code      string         `json:"-"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
	UsedAt    *time.Time     `json:"usedAt,omitempty"`
	Attempts  int            `json:"attempts"`
}

type ActivationVerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}
