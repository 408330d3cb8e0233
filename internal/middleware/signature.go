package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/paynow/approval-server/internal/audit"
	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/util"
)

const SignatureHeader = "X-Operator-Signature"

// WebhookSignatureMiddleware verifies an HMAC-SHA256 of the raw body sent
// by the operator chat integration. Without a secret every request is refused.
type WebhookSignatureMiddleware struct {
	secret string
}

func NewWebhookSignatureMiddleware(secret string) *WebhookSignatureMiddleware {
	return &WebhookSignatureMiddleware{secret: secret}
}

func (m *WebhookSignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.secret == "" {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventSignatureFailure,
				Details: map[string]interface{}{"reason": "not_configured"},
			})
			writeError(w, apperrors.Unauthorized("Operator webhook is not configured"))
			return
		}

		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventSignatureFailure,
				Details: map[string]interface{}{"reason": "missing"},
			})
			writeError(w, apperrors.Unauthorized("Missing signature"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Msg("webhook signature middleware: failed to read body")
			writeError(w, apperrors.ValidationError("Failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		computed := util.HmacSHA256(m.secret, string(body))
		if !util.ConstantTimeEqual(computed, signature) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventSignatureFailure,
				Details: map[string]interface{}{"reason": "mismatch"},
			})
			writeError(w, apperrors.Unauthorized("Invalid signature"))
			return
		}

		ctx := context.WithValue(r.Context(), OperatorContextKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
