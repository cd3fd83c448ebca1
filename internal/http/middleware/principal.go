package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nurpe/brokerage/internal/model"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

func SetPrincipal(c *gin.Context, principal model.Principal) {
	c.Set(principalKey, principal)
}

// MustPrincipal returns the principal stored by Auth.
func MustPrincipal(c *gin.Context) (model.Principal, bool) {
	value, ok := c.Get(principalKey)
	if !ok {
		return model.Principal{}, false
	}
	principal, ok := value.(model.Principal)
	return principal, ok && principal.UserID != 0
}

func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
