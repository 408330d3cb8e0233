package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paynow/approval-server/internal/audit"
	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/model"
	"github.com/paynow/approval-server/internal/repository"
	"github.com/paynow/approval-server/internal/store"
	"github.com/paynow/approval-server/internal/util"
)

type DecisionAction string

const (
	DecisionApprove DecisionAction = "approve"
	DecisionReject  DecisionAction = "reject"
)

// Decision is an operator verdict on a pending approval. A reject with a
// non-plain Kind is a failure rejection and lands the session in error.
type Decision struct {
	Action DecisionAction      `json:"action"`
	Kind   model.RejectionKind `json:"kind,omitempty"`
	Reason string              `json:"reason,omitempty"`
}

func (d Decision) validate() error {
	switch d.Action {
	case DecisionApprove:
		if d.Kind != model.RejectionPlain {
			return apperrors.InvalidInput("kind", "only a rejection can carry a kind")
		}
	case DecisionReject:
		if !d.Kind.Valid() {
			return apperrors.InvalidInput("kind", "must be invalid_code, no_balance or bank_rejected")
		}
	case "":
		return apperrors.MissingRequired("action")
	default:
		return apperrors.InvalidInput("action", "must be approve or reject")
	}
	return nil
}

// target returns the status the decision moves a pending session to and the
// reason recorded with it.
func (d Decision) target() (model.SessionStatus, string) {
	if d.Action == DecisionApprove {
		return model.SessionStatusApproved, ""
	}
	if d.Kind != model.RejectionPlain {
		return model.SessionStatusError, string(d.Kind)
	}
	return model.SessionStatusRejected, strings.TrimSpace(d.Reason)
}

type ApprovalResult struct {
	SessionID      string              `json:"sessionId"`
	Status         model.SessionStatus `json:"status"`
	ExpiresAt      time.Time           `json:"expiresAt"`
	PollIntervalMs int64               `json:"pollIntervalMs"`
	PollTimeoutMs  int64               `json:"pollTimeoutMs"`
}

type StatusResult struct {
	SessionID          string                   `json:"sessionId"`
	Status             model.SessionStatus      `json:"status"`
	Reason             string                   `json:"reason,omitempty"`
	VerificationResult model.VerificationResult `json:"verificationResult,omitempty"`
	Terminal           bool                     `json:"terminal"`
	ExpiresAt          time.Time                `json:"expiresAt"`
}

type ActivationIssueResult struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Code is only populated in simulation mode.
	Code string `json:"code,omitempty"`
}

type CheckoutOption func(s *CheckoutService)

// WithJournal records every accepted transition in repo.
func WithJournal(repo repository.DecisionRepository) CheckoutOption {
	return func(s *CheckoutService) {
		s.journal = repo
	}
}

func WithNotifier(n Notifier) CheckoutOption {
	return func(s *CheckoutService) {
		s.notifier = n
	}
}

// WithSimulation enables demo behaviour: decisions are applied by decider
// and issued activation codes are echoed to the client.
func WithSimulation(decider *AutoDecider) CheckoutOption {
	return func(s *CheckoutService) {
		s.simulation = true
		s.decider = decider
	}
}

// WithPollAdvice sets the polling cadence advertised to clients.
func WithPollAdvice(interval, timeout time.Duration) CheckoutOption {
	return func(s *CheckoutService) {
		s.pollInterval = clampPollInterval(interval)
		if timeout > 0 {
			s.pollTimeout = timeout
		}
	}
}

type CheckoutService struct {
	store    *store.SessionStore
	journal  repository.DecisionRepository
	notifier Notifier

	simulation bool
	decider    *AutoDecider

	pollInterval time.Duration
	pollTimeout  time.Duration

	// createMu serializes the pending check and the insert of RequestApproval.
	createMu sync.Mutex
}

func NewCheckoutService(sessions *store.SessionStore, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		store:        sessions,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CheckoutService) SimulationMode() bool {
	return s.simulation
}

func (s *CheckoutService) RequestApproval(ctx context.Context, id string, meta model.CheckoutMeta) (*ApprovalResult, error) {
	if id == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}

	s.createMu.Lock()
	if status, ok := s.store.GetStatus(id); ok && status == model.SessionStatusPending {
		s.createMu.Unlock()
		return nil, apperrors.Conflict("An approval request is already pending for this session")
	}
	session := s.store.CreatePending(id, meta)
	s.createMu.Unlock()

	log.Info().
		Str("sessionId", id).
		Int64("amount", meta.Amount).
		Str("currency", meta.Currency).
		Msg("approval requested")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventApprovalRequested,
		SessionID: id,
		Actor:     string(model.ActorClient),
	})

	s.journalTransition(ctx, nil, session, model.ActorClient)
	s.notify(ctx, model.OperatorEvent{
		Type:      model.OperatorEventApprovalRequested,
		SessionID: id,
		Status:    session.Status,
		Actor:     model.ActorClient,
		Meta:      &session.Meta,
		Version:   session.Version,
	})

	if s.decider != nil {
		s.decider.ScheduleApproval(id, func(ctx context.Context) {
			if _, err := s.Decide(ctx, id, Decision{Action: DecisionApprove}, model.ActorAutomatic); err != nil {
				log.Debug().Err(err).Str("sessionId", id).Msg("automatic approval skipped")
			}
		})
	}

	return &ApprovalResult{
		SessionID:      id,
		Status:         session.Status,
		ExpiresAt:      session.CreatedAt.Add(s.store.TTL()),
		PollIntervalMs: s.pollInterval.Milliseconds(),
		PollTimeoutMs:  s.pollTimeout.Milliseconds(),
	}, nil
}

// Decide applies an operator verdict to a pending session. Of two competing
// decisions the first one wins; the second sees the session already out of
// pending and gets INVALID_TRANSITION.
func (s *CheckoutService) Decide(ctx context.Context, id string, decision Decision, actor model.DecisionActor) (*model.Session, error) {
	if err := decision.validate(); err != nil {
		return nil, err
	}

	target, reason := decision.target()
	current, ok := s.store.GetStatus(id)
	if !ok {
		return nil, apperrors.NotFound("Session")
	}

	updated := s.store.SetStatus(id, target, reason)
	if updated == nil {
		return nil, s.transitionError(id, target)
	}

	log.Info().
		Str("sessionId", id).
		Str("status", string(updated.Status)).
		Str("actor", string(actor)).
		Int64("version", updated.Version).
		Msg("approval decided")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventOperatorDecision,
		SessionID: id,
		Actor:     string(actor),
		Details: map[string]interface{}{
			"status": string(updated.Status),
			"reason": reason,
		},
	})

	s.journalTransition(ctx, &current, updated, actor)
	s.notify(ctx, model.OperatorEvent{
		Type:      model.OperatorEventSessionUpdated,
		SessionID: id,
		Status:    updated.Status,
		Reason:    updated.RejectionReason,
		Actor:     actor,
		Version:   updated.Version,
	})

	return updated, nil
}

func (s *CheckoutService) Status(ctx context.Context, id string) (*StatusResult, error) {
	session := s.store.GetRecord(id)
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return &StatusResult{
		SessionID:          session.ID,
		Status:             session.Status,
		Reason:             session.RejectionReason,
		VerificationResult: session.VerificationResult,
		Terminal:           session.Status.IsTerminal(),
		ExpiresAt:          session.CreatedAt.Add(s.store.TTL()),
	}, nil
}

// Record returns the full session for operator views.
func (s *CheckoutService) Record(ctx context.Context, id string) (*model.Session, error) {
	session := s.store.GetRecord(id)
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

// History lists the journaled transitions of id, oldest first. It is empty
// when no journal is configured.
func (s *CheckoutService) History(ctx context.Context, id string) ([]model.DecisionRecord, error) {
	if s.journal == nil {
		return []model.DecisionRecord{}, nil
	}
	records, err := s.journal.FindBySessionID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return records, nil
}

// LastDecision returns the most recent journaled transition of id. It is nil
// when nothing was journaled or no journal is configured.
func (s *CheckoutService) LastDecision(ctx context.Context, id string) (*model.DecisionRecord, error) {
	if s.journal == nil {
		return nil, nil
	}
	record, err := s.journal.FindLatest(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return record, nil
}

// SubmitCode records the client's one-time code. The code is validated
// before the store is touched.
func (s *CheckoutService) SubmitCode(ctx context.Context, id, code string, amendment *model.CheckoutMeta) (*model.Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}
	if !util.IsValidVerificationCode(code) {
		return nil, apperrors.InvalidInput("code", fmt.Sprintf("must be %d to %d digits",
			util.MinVerificationCodeLength, util.MaxVerificationCodeLength))
	}

	current, ok := s.store.GetStatus(id)
	if !ok {
		return nil, apperrors.NotFound("Session")
	}
	if err := codeSubmissionError(current); err != nil {
		return nil, err
	}

	updated := s.store.SetVerificationCode(id, code, amendment)
	if updated == nil {
		// Lost a race with another writer; report against the fresh state.
		status, ok := s.store.GetStatus(id)
		if !ok {
			return nil, apperrors.NotFound("Session")
		}
		if err := codeSubmissionError(status); err != nil {
			return nil, err
		}
		return nil, apperrors.InvalidState("Code cannot be submitted for this session")
	}

	log.Info().
		Str("sessionId", id).
		Str("code", util.MaskCode(code)).
		Int64("version", updated.Version).
		Msg("verification code submitted")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventCodeSubmitted,
		SessionID: id,
		Actor:     string(model.ActorClient),
	})

	meta := updated.EffectiveMeta()
	s.journalTransition(ctx, &current, updated, model.ActorClient)
	s.notify(ctx, model.OperatorEvent{
		Type:      model.OperatorEventCodeSubmitted,
		SessionID: id,
		Status:    updated.Status,
		Actor:     model.ActorClient,
		Meta:      &meta,
		Code:      code,
		Version:   updated.Version,
	})

	if s.decider != nil {
		s.decider.ScheduleVerification(id, func(ctx context.Context) {
			if _, err := s.JudgeCode(ctx, id, model.VerificationCorrect, model.ActorAutomatic); err != nil {
				log.Debug().Err(err).Str("sessionId", id).Msg("automatic verification skipped")
			}
		})
	}

	return updated, nil
}

func codeSubmissionError(status model.SessionStatus) error {
	switch status {
	case model.SessionStatusApproved, model.SessionStatusCodeIncorrect:
		return nil
	case model.SessionStatusAwaitingVerification:
		return apperrors.Conflict("A code is already awaiting verification")
	default:
		return apperrors.InvalidState(fmt.Sprintf("Session is %s, a code can only be submitted once approved", status))
	}
}

// JudgeCode records the verdict on the submitted code.
func (s *CheckoutService) JudgeCode(ctx context.Context, id string, result model.VerificationResult, actor model.DecisionActor) (*model.Session, error) {
	target, ok := result.Status()
	if !ok {
		return nil, apperrors.InvalidInput("result", "must be correct, incorrect, no_balance or rejected")
	}

	current, ok := s.store.GetStatus(id)
	if !ok {
		return nil, apperrors.NotFound("Session")
	}

	updated := s.store.SetVerificationResult(id, result)
	if updated == nil {
		return nil, s.transitionError(id, target)
	}

	log.Info().
		Str("sessionId", id).
		Str("result", string(result)).
		Str("actor", string(actor)).
		Int64("version", updated.Version).
		Msg("verification code judged")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventCodeJudged,
		SessionID: id,
		Actor:     string(actor),
		Details:   map[string]interface{}{"result": string(result)},
	})

	s.journalTransition(ctx, &current, updated, actor)
	s.notify(ctx, model.OperatorEvent{
		Type:      model.OperatorEventSessionUpdated,
		SessionID: id,
		Status:    updated.Status,
		Actor:     actor,
		Version:   updated.Version,
	})

	return updated, nil
}

// IssueActivationCode binds a fresh numeric code to id and phone. The code
// goes to the operator channel; the caller only sees it in simulation mode.
func (s *CheckoutService) IssueActivationCode(ctx context.Context, id, phone string, meta map[string]any) (*ActivationIssueResult, error) {
	if id == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperrors.MissingRequired("phone")
	}
	if !util.IsValidPhone(phone) {
		return nil, apperrors.InvalidInput("phone", "must be 7 to 15 digits")
	}

	ac, err := s.store.CreateActivationCode(id, phone, meta)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue activation code").WithCause(err)
	}

	log.Info().
		Str("sessionId", id).
		Str("phone", util.MaskPhone(phone)).
		Time("expiresAt", ac.ExpiresAt).
		Msg("activation code issued")

	audit.Log(ctx, audit.Event{
		Type:      audit.EventActivationIssued,
		SessionID: id,
		Details:   map[string]interface{}{"phone": util.MaskPhone(phone)},
	})

	s.notify(ctx, model.OperatorEvent{
		Type:      model.OperatorEventActivationIssued,
		SessionID: id,
		Code:      ac.Code,
		Phone:     phone,
	})

	result := &ActivationIssueResult{SessionID: id, ExpiresAt: ac.ExpiresAt}
	if s.simulation {
		result.Code = ac.Code
	}
	return result, nil
}

func (s *CheckoutService) VerifyActivationCode(ctx context.Context, id, code string) (model.ActivationVerifyResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return model.ActivationVerifyResult{}, apperrors.MissingRequired("code")
	}
	if !util.IsNumericCode(code, store.MinCodeLength, store.MaxCodeLength) {
		return model.ActivationVerifyResult{}, apperrors.InvalidInput("code", fmt.Sprintf("must be %d to %d digits",
			store.MinCodeLength, store.MaxCodeLength))
	}

	result := s.store.VerifyActivationCode(id, code)

	audit.Log(ctx, audit.Event{
		Type:      audit.EventActivationVerify,
		SessionID: id,
		Details: map[string]interface{}{
			"valid":  result.Valid,
			"reason": result.Reason,
		},
	})

	return result, nil
}

// Clear drops the session and its activation code. Clearing an absent id
// is not an error.
func (s *CheckoutService) Clear(ctx context.Context, id string) {
	s.store.Clear(id)
	if s.decider != nil {
		s.decider.Cancel(id)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionCleared,
		SessionID: id,
		Actor:     string(model.ActorClient),
	})
	s.notify(ctx, model.OperatorEvent{
		Type:      model.OperatorEventSessionCleared,
		SessionID: id,
	})
}

// transitionError explains why a move to target was refused, re-reading the
// session so a concurrent expiry reports NOT_FOUND.
func (s *CheckoutService) transitionError(id string, target model.SessionStatus) error {
	status, ok := s.store.GetStatus(id)
	if !ok {
		return apperrors.NotFound("Session")
	}
	return apperrors.InvalidTransition(string(status), string(target))
}

func (s *CheckoutService) journalTransition(ctx context.Context, from *model.SessionStatus, session *model.Session, actor model.DecisionActor) {
	if s.journal == nil {
		return
	}

	params := model.CreateDecisionParams{
		SessionID: session.ID,
		ToStatus:  string(session.Status),
		Actor:     actor,
	}
	if from != nil {
		f := string(*from)
		params.FromStatus = &f
	}
	if session.RejectionReason != "" {
		r := session.RejectionReason
		params.Reason = &r
	}
	metadata, err := json.Marshal(map[string]any{
		"version":            session.Version,
		"verificationResult": session.VerificationResult,
	})
	if err == nil {
		params.Metadata = metadata
	}

	if _, err := s.journal.Create(ctx, params); err != nil {
		log.Error().
			Err(err).
			Str("sessionId", session.ID).
			Str("toStatus", params.ToStatus).
			Msg("failed to journal decision")
	}
}

func (s *CheckoutService) notify(ctx context.Context, event model.OperatorEvent) {
	if s.notifier == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", event.SessionID).
			Str("event", string(event.Type)).
			Msg("failed to notify operators")
	}
}
