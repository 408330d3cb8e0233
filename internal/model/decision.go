package model

import (
	"encoding/json"
	"time"
)

type DecisionActor string

const (
	ActorClient    DecisionActor = "client"
	ActorOperator  DecisionActor = "operator"
	ActorAutomatic DecisionActor = "automatic"
)

// DecisionRecord is one journaled transition of a checkout session.
type DecisionRecord struct {
	ID         string           `db:"id" json:"id"`
	SessionID  string           `db:"session_id" json:"sessionId"`
	FromStatus *string          `db:"from_status" json:"fromStatus,omitempty"`
	ToStatus   string           `db:"to_status" json:"toStatus"`
	Actor      string           `db:"actor" json:"actor"`
	Reason     *string          `db:"reason" json:"reason,omitempty"`
	Metadata   *json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"createdAt"`
	// Seq orders entries of one session; created_at can tie.
	Seq int64 `db:"seq" json:"seq"`
}

type CreateDecisionParams struct {
	SessionID  string
	FromStatus *string
	ToStatus   string
	Actor      DecisionActor
	Reason     *string
	Metadata   json.RawMessage
}
