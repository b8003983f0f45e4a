package handler

import (
	"errors"
	"net/http"
	"time"

	"cipherchat/internal/transport/httpdto"
	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const timeLayout = time.RFC3339

// respondError maps domain sentinels onto HTTP statuses. Everything
// unmapped is a 500 with a generic body; internals never leak.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cipherchat_errors.ErrInvalidInput),
		errors.Is(err, cipherchat_errors.ErrInvalidKeyMaterial):
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(err.Error(), "INVALID_REQUEST"))
	case errors.Is(err, cipherchat_errors.ErrSecondFactorRequired):
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse(err.Error(), "SECOND_FACTOR_REQUIRED"))
	case errors.Is(err, cipherchat_errors.ErrSecondFactorInvalid):
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse(err.Error(), "SECOND_FACTOR_INVALID"))
	case errors.Is(err, cipherchat_errors.ErrTokenRevoked),
		errors.Is(err, cipherchat_errors.ErrTokenInvalid),
		errors.Is(err, cipherchat_errors.ErrFingerprintMismatch),
		errors.Is(err, cipherchat_errors.ErrExpired),
		errors.Is(err, cipherchat_errors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
	case errors.Is(err, cipherchat_errors.ErrForbidden),
		errors.Is(err, cipherchat_errors.ErrNotAMember):
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse(err.Error(), "FORBIDDEN"))
	case errors.Is(err, cipherchat_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse(err.Error(), "NOT_FOUND"))
	case errors.Is(err, cipherchat_errors.ErrAlreadyExists),
		errors.Is(err, cipherchat_errors.ErrConflict):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse(err.Error(), "CONFLICT"))
	case errors.Is(err, cipherchat_errors.ErrEditWindowExpired):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse(err.Error(), "EDIT_WINDOW_EXPIRED"))
	case errors.Is(err, cipherchat_errors.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "SERVICE_UNAVAILABLE"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(msg, "INVALID_REQUEST"))
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
