package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	attributiondomain "github.com/northmeter/ledger/internal/attribution/domain"
	ledgerdomain "github.com/northmeter/ledger/internal/ledger/domain"
	"github.com/northmeter/ledger/internal/reporting"
	tenantdomain "github.com/northmeter/ledger/internal/tenant/domain"
	usageeventdomain "github.com/northmeter/ledger/internal/usageevent/domain"
	"github.com/northmeter/ledger/internal/usagetype"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	var validationErrs *ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  validationErrs.Errors,
		}
	}

	switch {
	// The gate's denial is a plain authorization failure; it never leaks
	// whether the target tenant or its data exists.
	case errors.Is(err, reporting.ErrAccessDenied):
		return http.StatusForbidden, errorPayload{Type: "access_denied", Message: "access denied"}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "authentication required"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, ledgerdomain.ErrCursorNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "resource not found"}
	case errors.Is(err, usagetype.ErrUnknownUsageType):
		return http.StatusUnprocessableEntity, errorPayload{Type: "unknown_usage_type", Message: err.Error()}
	case errors.Is(err, tenantdomain.ErrDuplicateTenant):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "tenant already exists"}
	case errors.Is(err, ledgerdomain.ErrReconciliationConflict):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "reconciliation already in flight"}
	case errors.Is(err, tenantdomain.ErrInvalidName),
		errors.Is(err, tenantdomain.ErrInvalidEmail),
		errors.Is(err, attributiondomain.ErrInvalidTenant),
		errors.Is(err, usageeventdomain.ErrInvalidEventID),
		errors.Is(err, usageeventdomain.ErrInvalidTenant),
		errors.Is(err, usageeventdomain.ErrInvalidQuantity),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal error"}
	}
}
