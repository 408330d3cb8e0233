package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/httputil"
	"github.com/paynow/approval-server/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return apperrors.ValidationError("Request body too large")
		}
		return apperrors.ValidationError("Invalid JSON body").WithCause(err)
	}
	return nil
}

// sessionIDParam returns the {sessionID} path parameter, which must be a
// canonical UUID.
func sessionIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		return "", apperrors.MissingRequired("sessionId")
	}
	if !util.IsValidSessionID(id) {
		return "", apperrors.InvalidInput("sessionId", "must be a UUID")
	}
	return id, nil
}
