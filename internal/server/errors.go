package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderbridge/internal/authorization"
	"github.com/smallbiznis/orderbridge/internal/failure"
	orderdomain "github.com/smallbiznis/orderbridge/internal/order/domain"
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
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Step    string            `json:"step,omitempty"`
	Reached string            `json:"reached,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = failure.New(failure.KindNotFound, "not_found")
	ErrInvalidRequest = failure.New(failure.KindValidation, "invalid_request")
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
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	}
	if errors.Is(err, authorization.ErrForbidden) {
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	}

	payload := errorPayload{Code: failure.CodeOf(err)}
	var stepErr *orderdomain.StepError
	if errors.As(err, &stepErr) {
		payload.Step = stepErr.Step
		payload.Reached = string(stepErr.Reached)
	}

	switch failure.KindOf(err) {
	case failure.KindValidation:
		payload.Type = "validation_error"
		payload.Message = "validation error"
		return http.StatusUnprocessableEntity, payload
	case failure.KindNotFound:
		payload.Type = "not_found"
		payload.Message = "not found"
		return http.StatusNotFound, payload
	case failure.KindConflict:
		payload.Type = "conflict"
		payload.Message = "conflict"
		return http.StatusConflict, payload
	case failure.KindRateLimit:
		payload.Type = "rate_limited"
		payload.Message = "too many requests"
		return http.StatusTooManyRequests, payload
	case failure.KindUpstream:
		payload.Type = "upstream_unavailable"
		payload.Message = "upstream service unavailable"
		return http.StatusBadGateway, payload
	default:
		payload.Type = "internal_error"
		payload.Message = "internal server error"
		return http.StatusInternalServerError, payload
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// classifyErrorForLog returns the error type and code logged per request.
func classifyErrorForLog(err error) (string, string) {
	if asValidationErrors(err) != nil {
		return "validation_error", "invalid_request"
	}
	if errors.Is(err, ErrUnauthorized) {
		return "unauthorized", "unauthorized"
	}
	if errors.Is(err, authorization.ErrForbidden) {
		return "forbidden", "forbidden"
	}
	return string(failure.KindOf(err)), failure.CodeOf(err)
}
