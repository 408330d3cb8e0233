package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/middleware"
	"github.com/paynow/approval-server/internal/model"
	"github.com/paynow/approval-server/internal/service"
)

type OperatorHandler struct {
	checkout *service.CheckoutService
	operator *service.OperatorService
}

func NewOperatorHandler(checkout *service.CheckoutService, operator *service.OperatorService) *OperatorHandler {
	return &OperatorHandler{
		checkout: checkout,
		operator: operator,
	}
}

// Routes are the authenticated operator endpoints. They refuse requests no
// operator guard has vouched for.
func (h *OperatorHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requireOperator)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Get("/history", h.GetHistory)
		r.Post("/decision", h.Decide)
		r.Post("/verification", h.JudgeCode)
	})

	return r
}

// GET /operator/sessions/{sessionID}
func (h *OperatorHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.checkout.Record(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	last, err := h.checkout.LastDecision(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("failed to read last decision")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":       session,
		"effectiveMeta": session.EffectiveMeta(),
		"lastDecision":  last,
	})
}

// GET /operator/sessions/{sessionID}/history
func (h *OperatorHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := h.checkout.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"decisions": records,
	})
}

type decisionRequest struct {
	Action service.DecisionAction `json:"action"`
	Kind   model.RejectionKind    `json:"kind,omitempty"`
	Reason string                 `json:"reason,omitempty"`
}

// POST /operator/sessions/{sessionID}/decision
func (h *OperatorHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	decision := service.Decision{Action: req.Action, Kind: req.Kind, Reason: req.Reason}
	session, err := h.checkout.Decide(r.Context(), id, decision, model.ActorOperator)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

type judgeRequest struct {
	Result model.VerificationResult `json:"result"`
}

// POST /operator/sessions/{sessionID}/verification
func (h *OperatorHandler) JudgeCode(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req judgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.checkout.JudgeCode(r.Context(), id, req.Result, model.ActorOperator)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

type webhookRequest struct {
	Text string `json:"text"`
}

// POST /operator/webhook
//
// Chat integrations forward the operator's message text; the reply is sent
// back to the chat verbatim.
func (h *OperatorHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if !middleware.IsOperator(r.Context()) {
		writeError(w, apperrors.Unauthorized("Operator authentication required"))
		return
	}

	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Text == "" {
		writeError(w, apperrors.MissingRequired("text"))
		return
	}

	reply := h.operator.HandleText(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !middleware.IsOperator(r.Context()) {
			writeError(w, apperrors.Unauthorized("Operator authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
