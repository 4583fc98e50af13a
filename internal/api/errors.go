package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/adserver"
	"github.com/adcontextprotocol/salesagent/internal/mediabuy"
	"github.com/adcontextprotocol/salesagent/internal/middleware"
	"github.com/adcontextprotocol/salesagent/internal/models"
)

// CodeInvalidRequest marks malformed or invalid request bodies.
const CodeInvalidRequest = "invalid_request"

// requestError is a malformed or invalid request body.
type requestError struct {
	Message string
	Fields  []string
	Err     error
}

func (e *requestError) Error() string { return e.Message + ": " + e.Err.Error() }
func (e *requestError) Unwrap() error { return e.Err }

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failed request.
type ErrorDetail struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Fields      []string          `json:"fields,omitempty"`
	CreativeIDs []string          `json:"creative_ids,omitempty"`
	Conflicts   []models.KeyValue `json:"conflicts,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	var re *requestError
	var tre *models.TenantResolutionError
	switch {
	case errors.As(err, &re):
		return http.StatusBadRequest
	case errors.As(err, &tre):
		switch tre.Kind {
		case models.NoHostSignal:
			return http.StatusBadRequest
		case models.UnknownTenant:
			return http.StatusNotFound
		case models.MissingCredential:
			return http.StatusUnauthorized
		default:
			return http.StatusForbidden
		}
	case errors.Is(err, models.ErrMissingTenantContext):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrConflictingTargeting),
		errors.Is(err, models.ErrCreativeNotFound),
		errors.Is(err, models.ErrUnboundKey):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrPackageNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case adserver.IsPermissionDenied(err):
		return http.StatusBadGateway
	case adserver.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorDetail(err error) ErrorDetail {
	var re *requestError
	if errors.As(err, &re) {
		return ErrorDetail{Code: CodeInvalidRequest, Message: re.Message, Fields: re.Fields}
	}
	ie := mediabuy.ItemErrorFor(err)
	d := ErrorDetail{Code: ie.Code, Message: ie.Message, CreativeIDs: ie.CreativeIDs}
	var cte *models.ConflictingTargetingError
	if errors.As(err, &cte) {
		d.Conflicts = cte.Conflicts
	}
	if d.Code == mediabuy.CodeInternal {
		d.Message = "internal error"
	}
	return d
}

// writeError renders err as the JSON error envelope. Tenant resolution
// failures are logged by the resolver.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFromRequest(r, s.Logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	d := errorDetail(err)
	d.RequestID = middleware.RequestIDFromContext(r.Context())
	writeJSON(w, status, ErrorBody{Error: d})
}
