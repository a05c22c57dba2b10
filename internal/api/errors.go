package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"talep/internal/domain"
	"talep/internal/models"

	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error     string                `json:"error"`
	Code      string                `json:"code,omitempty"`
	Field     string                `json:"field,omitempty"`
	RequestID string                `json:"request_id,omitempty"`
	Conflict  *conflictResponseBody `json:"conflict,omitempty"`
}

type conflictResponseBody struct {
	ResourceID  int64                 `json:"resource_id"`
	Conflicts   []*models.Reservation `json:"conflicts"`
	ConflictIDs []int64               `json:"conflict_ids"`
	Capacity    int                   `json:"capacity,omitempty"`
	Remaining   *int                  `json:"remaining,omitempty"`
	Reason      string                `json:"reason,omitempty"`
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	var cerr *domain.ConflictError
	switch {
	case errors.As(err, &cerr), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, domain.ErrResourceBusy):
		return http.StatusServiceUnavailable, "resource_busy"
	}
	return http.StatusInternalServerError, "internal"
}

func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status, code := statusFor(err)
	body := errorResponse{Error: err.Error(), Code: code, RequestID: RequestID(r.Context())}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}

	var cerr *domain.ConflictError
	if errors.As(err, &cerr) {
		conflicts := cerr.Conflicts
		if conflicts == nil {
			conflicts = []*models.Reservation{}
		}
		body.Conflict = &conflictResponseBody{
			ResourceID:  cerr.ResourceID,
			Conflicts:   conflicts,
			ConflictIDs: cerr.ConflictIDs(),
			Capacity:    cerr.Capacity,
			Remaining:   cerr.Remaining,
			Reason:      cerr.Reason,
		}
	}

	if status == http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("request_id", body.RequestID).
			Str("path", r.URL.Path).
			Msg("request failed")
		body.Error = "internal error"
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
