package middleware

import (
	"context"
	"net/http"
	"strings"

	"cipherchat/internal/services"
	"cipherchat/internal/session"
	"cipherchat/internal/token"
	"cipherchat/internal/transport/httpdto"
	"cipherchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuthMiddleware verifies the bearer access token and touches the
// caller's session. An expired session turns a structurally valid
// token into a 401: the client must re-authenticate, not just refresh.
func AuthMiddleware(issuer *token.Issuer, sessions session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := issuer.Verify(c.Request.Context(), extractBearer(c), token.KindAccess)
		if err != nil {
			unauthorized(c)
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			unauthorized(c)
			return
		}

		outcome, err := sessions.Touch(c.Request.Context(), session.Key{
			UserID:      userID,
			Fingerprint: claims.Fingerprint,
			SourceAddr:  c.ClientIP(),
		})
		if err != nil || outcome == session.OutcomeExpired {
			unauthorized(c)
			return
		}

		ctx := services.WithIdentity(c.Request.Context(), services.Identity{
			UserID:      userID,
			Fingerprint: claims.Fingerprint,
		})
		ctx = context.WithValue(ctx, logger.UserIdKey, userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
	c.Abort()
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
