package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/paynow/approval-server/internal/audit"
	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/util"
)

type contextKey string

const OperatorContextKey contextKey = "operator"

// IsOperator reports whether the request passed OperatorAuthMiddleware or
// WebhookSignatureMiddleware.
func IsOperator(ctx context.Context) bool {
	ok, _ := ctx.Value(OperatorContextKey).(bool)
	return ok
}

// OperatorAuthMiddleware checks a bearer token against a bcrypt hash.
// With no hash configured every operator request is refused.
type OperatorAuthMiddleware struct {
	tokenHash string
}

func NewOperatorAuthMiddleware(tokenHash string) *OperatorAuthMiddleware {
	return &OperatorAuthMiddleware{tokenHash: tokenHash}
}

func (m *OperatorAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash == "" {
			log.Warn().Msg("operator auth: OPERATOR_TOKEN_HASH is not configured, refusing request")
			writeError(w, apperrors.Unauthorized("Operator access is not configured"))
			return
		}

		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		if !util.CheckPasswordHash(token, m.tokenHash) {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			writeError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), OperatorContextKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken accepts a query token for EventSource clients, which cannot
// set headers.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
