package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	domain "github.com/jamesnjugunah/vendorshop/internal/entity"
	"github.com/jamesnjugunah/vendorshop/internal/infrastructure/mpesa"
	"github.com/jamesnjugunah/vendorshop/internal/logging"
	"github.com/jamesnjugunah/vendorshop/internal/usecase"
)

var errMissingCallback = errors.New("missing Body.stkCallback")

// statusFor maps use case and gateway errors to an HTTP status and the
// message shown to the caller.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, usecase.ErrInvalidInput),
		errors.Is(err, mpesa.ErrInvalidPhone),
		errors.Is(err, mpesa.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, usecase.ErrInvalidState):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, usecase.ErrForbidden):
		return http.StatusForbidden, "admin access required"
	case errors.Is(err, usecase.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, usecase.ErrDuplicate):
		return http.StatusConflict, "request with this idempotency key is in progress"
	case errors.Is(err, mpesa.ErrCredential):
		return http.StatusUnauthorized, "payment provider rejected our credentials"
	case errors.Is(err, mpesa.ErrProvider):
		return http.StatusBadGateway, "payment provider declined the request"
	case errors.Is(err, mpesa.ErrNetwork):
		return http.StatusServiceUnavailable, "payment provider unreachable, try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.From(c).Error("request failed", "error", err)
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}
