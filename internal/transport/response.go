// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the aegis API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/aegis/internal/observability"
	"github.com/pitabwire/aegis/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes. Persistence
// and aggregation failures are retryable, so they surface as 503 rather than
// a hard 500.
var statusForCode = map[string]int{
	model.ErrBadRequest:        http.StatusBadRequest,
	model.ErrUnauthorized:      http.StatusUnauthorized,
	model.ErrForbidden:         http.StatusForbidden,
	model.ErrNotFound:          http.StatusNotFound,
	model.ErrConflict:          http.StatusConflict,
	model.ErrValidationError:   http.StatusUnprocessableEntity,
	model.ErrInvalidTransition: http.StatusUnprocessableEntity,
	model.ErrPersistenceError:  http.StatusServiceUnavailable,
	model.ErrAggregationError:  http.StatusServiceUnavailable,
	model.ErrInternalError:     http.StatusInternalServerError,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code, stamping the active trace id into the envelope. An err
// that is not an *ErrorEnvelope becomes a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}
	if ee.TraceID == "" && r != nil {
		ee.TraceID = observability.TraceIDFromContext(r.Context())
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, r *http.Request, details []model.FieldError) {
	WriteError(w, r, model.NewValidationError(details))
}
