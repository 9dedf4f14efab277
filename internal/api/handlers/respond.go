// Package handlers implements the HTTP API surface.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/skeenode/predictd/internal/api/middleware"
	"github.com/skeenode/predictd/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// writeError maps application errors onto their HTTP status and a uniform
// error envelope. Unknown error values become opaque 500s.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.NewInternalError("internal error")
	}

	writeJSON(w, appErr.HTTPStatus, &errors.ErrorResponse{
		Error:     appErr,
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}
