package model

import "time"

type OperatorEventType string

const (
	OperatorEventApprovalRequested OperatorEventType = "approval_requested"
	OperatorEventCodeSubmitted     OperatorEventType = "code_submitted"
	OperatorEventActivationIssued  OperatorEventType = "activation_code_issued"
	OperatorEventSessionUpdated    OperatorEventType = "session_updated"
	OperatorEventSessionCleared    OperatorEventType = "session_cleared"
)

// OperatorEvent is what the operator channel learns about a session. Code
// carries the submitted verification code or the issued activation code and
// must only ever reach operators.
type OperatorEvent struct {
	Type      OperatorEventType `json:"type"`
	SessionID string            `json:"sessionId"`
	Status    SessionStatus     `json:"status,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Actor     DecisionActor     `json:"actor,omitempty"`
	Meta      *CheckoutMeta     `json:"meta,omitempty"`
	Code      string            `json:"code,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Version   int64             `json:"version,omitempty"`
	At        time.Time         `json:"at"`
}
