package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nurpe/brokerage/internal/model"
	"github.com/nurpe/brokerage/internal/service"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (model.Principal, error)
}

// Auth resolves the bearer token to an approved principal. Clients are told
// to drop their token with revoke_auth when it can no longer be used.
func Auth(authenticator Authenticator, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":       "توکن احراز هویت ارسال نشده است",
				"detail":      "access denied, no token provided",
				"revoke_auth": true,
			})
			return
		}

		principal, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			message, detail, _ := service.Describe(err)
			switch {
			case errors.Is(err, service.ErrUnauthorized):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":       message,
					"detail":      detail,
					"revoke_auth": true,
				})
			case errors.Is(err, service.ErrPermissionDenied):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message, "detail": detail})
			default:
				log.Error().Err(err).Msg("authenticate request failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "خطای سرور", "detail": "internal error"})
			}
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
