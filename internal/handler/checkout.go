package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paynow/approval-server/internal/model"
	"github.com/paynow/approval-server/internal/service"
)

// CheckoutLimits are optional per-route rate limit middlewares.
type CheckoutLimits struct {
	Approval   func(http.Handler) http.Handler
	Code       func(http.Handler) http.Handler
	Activation func(http.Handler) http.Handler
}

type CheckoutHandler struct {
	checkout *service.CheckoutService
	limits   CheckoutLimits
}

func NewCheckoutHandler(checkout *service.CheckoutService, limits CheckoutLimits) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		limits:   limits,
	}
}

func (h *CheckoutHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/{sessionID}", func(r chi.Router) {
		r.With(middlewares(h.limits.Approval)...).Post("/approval", h.RequestApproval)
		r.Get("/status", h.GetStatus)
		r.With(middlewares(h.limits.Code)...).Post("/code", h.SubmitCode)
		r.With(middlewares(h.limits.Approval)...).Post("/activation", h.IssueActivationCode)
		r.With(middlewares(h.limits.Activation)...).Post("/activation/verify", h.VerifyActivationCode)
		r.Delete("/", h.Clear)
	})

	return r
}

func middlewares(mws ...func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}

// POST /v1/checkout/{sessionID}/approval
func (h *CheckoutHandler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var meta model.CheckoutMeta
	if err := decodeJSON(r, &meta); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.checkout.RequestApproval(r.Context(), id, meta)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/checkout/{sessionID}/status
func (h *CheckoutHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.checkout.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type submitCodeRequest struct {
	Code      string              `json:"code"`
	Amendment *model.CheckoutMeta `json:"amendment,omitempty"`
}

// POST /v1/checkout/{sessionID}/code
func (h *CheckoutHandler) SubmitCode(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req submitCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.checkout.SubmitCode(r.Context(), id, req.Code, req.Amendment)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": session.ID,
		"status":    session.Status,
	})
}

type issueActivationRequest struct {
	Phone string         `json:"phone"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// POST /v1/checkout/{sessionID}/activation
func (h *CheckoutHandler) IssueActivationCode(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req issueActivationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.checkout.IssueActivationCode(r.Context(), id, req.Phone, req.Meta)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type verifyActivationRequest struct {
	Code string `json:"code"`
}

// POST /v1/checkout/{sessionID}/activation/verify
func (h *CheckoutHandler) VerifyActivationCode(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req verifyActivationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.checkout.VerifyActivationCode(r.Context(), id, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DELETE /v1/checkout/{sessionID}
func (h *CheckoutHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	h.checkout.Clear(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
