package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/paynow/approval-server/internal/database"
	"github.com/paynow/approval-server/internal/model"
)

const decisionSchema = `
CREATE TABLE IF NOT EXISTS checkout_decisions (
	id          UUID PRIMARY KEY,
	session_id  TEXT NOT NULL,
	from_status TEXT,
	to_status   TEXT NOT NULL,
	actor       TEXT NOT NULL,
	reason      TEXT,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE checkout_decisions ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
DROP INDEX IF EXISTS idx_checkout_decisions_session;
CREATE INDEX IF NOT EXISTS idx_checkout_decisions_session_seq ON checkout_decisions (session_id, seq);
CREATE INDEX IF NOT EXISTS idx_checkout_decisions_created ON checkout_decisions (created_at);
`

// DecisionRepository journals every accepted session transition. The
// journal is an audit trail only; session state is never read back from it.
type DecisionRepository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, params model.CreateDecisionParams) (*model.DecisionRecord, error)
	FindBySessionID(ctx context.Context, sessionID string) ([]model.DecisionRecord, error)
	FindLatest(ctx context.Context, sessionID string) (*model.DecisionRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) DecisionRepository
}

type decisionRepo struct {
	db database.DBTX
}

func NewDecisionRepository(db *sqlx.DB) DecisionRepository {
	return &decisionRepo{db: db}
}

// PrepareDecisionJournal applies the journal schema in a single transaction
// and returns a repository bound to db.
func PrepareDecisionJournal(ctx context.Context, db *database.DB) (DecisionRepository, error) {
	repo := NewDecisionRepository(db.DB)
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return repo.WithTx(tx).EnsureSchema(ctx)
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *decisionRepo) WithTx(tx *sqlx.Tx) DecisionRepository {
	return &decisionRepo{db: tx}
}

func (r *decisionRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, decisionSchema); err != nil {
		return fmt.Errorf("create checkout_decisions: %w", err)
	}
	return nil
}

func (r *decisionRepo) Create(ctx context.Context, params model.CreateDecisionParams) (*model.DecisionRecord, error) {
	var record model.DecisionRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO checkout_decisions (id, session_id, from_status, to_status, actor, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, uuid.NewString(), params.SessionID, params.FromStatus, params.ToStatus, string(params.Actor), params.Reason, jsonParam(params.Metadata))
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return &record, nil
}

func (r *decisionRepo) FindBySessionID(ctx context.Context, sessionID string) ([]model.DecisionRecord, error) {
	records := []model.DecisionRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM checkout_decisions
		WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return records, nil
}

func (r *decisionRepo) FindLatest(ctx context.Context, sessionID string) (*model.DecisionRecord, error) {
	record, err := getOne[model.DecisionRecord](ctx, r.db, `
		SELECT * FROM checkout_decisions
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find latest decision: %w", err)
	}
	return record, nil
}

func (r *decisionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM checkout_decisions WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune decisions: %w", err)
	}
	return result.RowsAffected()
}

// jsonParam passes JSON as text so lib/pq does not encode it as bytea.
func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
