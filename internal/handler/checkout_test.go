package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/httputil"
	"github.com/paynow/approval-server/internal/middleware"
	"github.com/paynow/approval-server/internal/model"
	"github.com/paynow/approval-server/internal/service"
	"github.com/paynow/approval-server/internal/store"
	"github.com/paynow/approval-server/internal/util"
)

const (
	testOperatorToken = "operator-token"
	testWebhookSecret = "webhook-secret"
)

type testServer struct {
	router   chi.Router
	checkout *service.CheckoutService
}

func newTestServer(t *testing.T, opts ...service.CheckoutOption) *testServer {
	t.Helper()
	sessions := store.New(store.Config{TTL: 5 * time.Minute, ActivationTTL: 2 * time.Minute})
	checkout := service.NewCheckoutService(sessions, opts...)
	operator := service.NewOperatorService(checkout)

	hash, err := bcrypt.GenerateFromPassword([]byte(testOperatorToken), bcrypt.MinCost)
	require.NoError(t, err)

	r := NewRouter(RouterConfig{
		Checkout:         NewCheckoutHandler(checkout, CheckoutLimits{}),
		Operator:         NewOperatorHandler(checkout, operator),
		OperatorAuth:     middleware.NewOperatorAuthMiddleware(string(hash)).Handler,
		WebhookSignature: middleware.NewWebhookSignatureMiddleware(testWebhookSecret).Handler,
	})

	return &testServer{router: r, checkout: checkout}
}

// do sends body with operator credentials attached, as an operator console
// or signed chat integration would.
func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf.Bytes()))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testOperatorToken)
	req.Header.Set(middleware.SignatureHeader, util.HmacSHA256(testWebhookSecret, buf.String()))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorCode {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Code
}

func TestCheckoutHandler_RequestApproval(t *testing.T) {
	t.Run("creates a pending session", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{
			CustomerName: "Jane Doe",
			Amount:       129900,
			Currency:     "USD",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		var result service.ApprovalResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, id, result.SessionID)
		assert.Equal(t, model.SessionStatusPending, result.Status)
		assert.Equal(t, int64(1000), result.PollIntervalMs)
	})

	t.Run("duplicate pending request is a 409", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()

		first := srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})
		require.Equal(t, http.StatusCreated, first.Code)

		second := srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})
		assert.Equal(t, http.StatusConflict, second.Code)
		assert.Equal(t, apperrors.ErrCodeConflict, errorCode(t, second))
	})

	t.Run("rejects non-uuid ids", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/v1/checkout/not-a-uuid/approval", model.CheckoutMeta{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, errorCode(t, rec))
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+uuid.NewString()+"/approval", map[string]any{"cardNumber": "4111111111111111"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeValidation, errorCode(t, rec))
	})
}

func TestCheckoutHandler_Status(t *testing.T) {
	t.Run("unknown session is a neutral 404", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodGet, "/v1/checkout/"+uuid.NewString()+"/status", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, apperrors.ErrCodeNotFound, errorCode(t, rec))
	})

	t.Run("reports the operator decision", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})

		rec := srv.do(t, http.MethodPost, "/operator/sessions/"+id+"/decision", map[string]any{
			"action": "reject",
			"kind":   "no_balance",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = srv.do(t, http.MethodGet, "/v1/checkout/"+id+"/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var status service.StatusResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, model.SessionStatusError, status.Status)
		assert.Equal(t, "no_balance", status.Reason)
		assert.True(t, status.Terminal)
	})
}

func TestCheckoutHandler_SubmitCode(t *testing.T) {
	t.Run("pending session is a 400", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/code", map[string]any{"code": "123456"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidState, errorCode(t, rec))
	})

	t.Run("malformed code is a 400 before lookup", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+uuid.NewString()+"/code", map[string]any{"code": "12a"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("accepts after approval and 409s on resubmission", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{Amount: 5000})
		srv.do(t, http.MethodPost, "/operator/sessions/"+id+"/decision", map[string]any{"action": "approve"})

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/code", map[string]any{
			"code":      "123456",
			"amendment": map[string]any{"amount": 5500},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), string(model.SessionStatusAwaitingVerification))

		rec = srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/code", map[string]any{"code": "654321"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.ErrCodeConflict, errorCode(t, rec))

		rec = srv.do(t, http.MethodGet, "/operator/sessions/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"amount":5500`)
		assert.NotContains(t, rec.Body.String(), "123456")
	})

	t.Run("operator judgement completes the flow", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})
		srv.do(t, http.MethodPost, "/operator/sessions/"+id+"/decision", map[string]any{"action": "approve"})
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/code", map[string]any{"code": "1234"})

		rec := srv.do(t, http.MethodPost, "/operator/sessions/"+id+"/verification", map[string]any{"result": "correct"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = srv.do(t, http.MethodPost, "/operator/sessions/"+id+"/verification", map[string]any{"result": "incorrect"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, errorCode(t, rec))
	})
}

func TestCheckoutHandler_Activation(t *testing.T) {
	t.Run("code is hidden outside simulation", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/activation", map[string]any{"phone": "+15551234567"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var result service.ActivationIssueResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Empty(t, result.Code)
	})

	t.Run("simulation echoes a code that verifies once", func(t *testing.T) {
		decider := service.NewAutoDecider(time.Hour, time.Hour)
		defer decider.Stop()
		srv := newTestServer(t, service.WithSimulation(decider))
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/activation", map[string]any{"phone": "+15551234567"})
		require.Equal(t, http.StatusCreated, rec.Code)
		var issued service.ActivationIssueResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
		require.NotEmpty(t, issued.Code)

		rec = srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/activation/verify", map[string]any{"code": issued.Code})
		require.Equal(t, http.StatusOK, rec.Code)
		var verify model.ActivationVerifyResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
		assert.True(t, verify.Valid)

		rec = srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/activation/verify", map[string]any{"code": issued.Code})
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
		assert.False(t, verify.Valid)
		assert.Equal(t, model.ActivationReasonMismatch, verify.Reason)
	})

	t.Run("invalid phone is a 400", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/v1/checkout/"+uuid.NewString()+"/activation", map[string]any{"phone": "call me"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCheckoutHandler_Clear(t *testing.T) {
	srv := newTestServer(t)
	id := uuid.NewString()
	srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})

	rec := srv.do(t, http.MethodDelete, "/v1/checkout/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodDelete, "/v1/checkout/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/checkout/"+id+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutHandler_RateLimits(t *testing.T) {
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, apperrors.RateLimitExceeded())
		})
	}

	sessions := store.New(store.Config{TTL: time.Minute})
	checkout := service.NewCheckoutService(sessions)
	r := chi.NewRouter()
	r.Mount("/v1/checkout", NewCheckoutHandler(checkout, CheckoutLimits{Code: blocked}).Routes())

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/v1/checkout/"+id+"/code", bytes.NewBufferString(`{"code":"1234"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/checkout/"+id+"/approval", bytes.NewBufferString(`{}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestOperatorHandler(t *testing.T) {
	t.Run("decision on missing session is 404", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/operator/sessions/"+uuid.NewString()+"/decision", map[string]any{"action": "approve"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("second decision is an invalid transition", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})

		rec := srv.do(t, http.MethodPost, "/operator/sessions/"+id+"/decision", map[string]any{"action": "approve"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = srv.do(t, http.MethodPost, "/operator/sessions/"+id+"/decision", map[string]any{"action": "reject"})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidTransition, errorCode(t, rec))
	})

	t.Run("unknown action is a 400", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/operator/sessions/"+uuid.NewString()+"/decision", map[string]any{"action": "maybe"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("history is empty without a journal", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodGet, "/operator/sessions/"+uuid.NewString()+"/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"decisions":[]`)
	})

	t.Run("webhook runs chat commands", func(t *testing.T) {
		srv := newTestServer(t)
		id := uuid.NewString()
		srv.do(t, http.MethodPost, "/v1/checkout/"+id+"/approval", model.CheckoutMeta{})

		rec := srv.do(t, http.MethodPost, "/operator/webhook", map[string]any{"text": "/approve " + id})
		require.Equal(t, http.StatusOK, rec.Code)

		status, err := srv.checkout.Status(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusApproved, status.Status)
	})

	t.Run("webhook requires text", func(t *testing.T) {
		srv := newTestServer(t)

		rec := srv.do(t, http.MethodPost, "/operator/webhook", map[string]any{"text": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, errorCode(t, rec))
	})
}
