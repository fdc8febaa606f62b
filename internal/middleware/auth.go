package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/deepquery/deepquery/internal/auth"
	"github.com/deepquery/deepquery/internal/pkg/errcode"
	"github.com/deepquery/deepquery/internal/pkg/response"
)

const (
	ContextIdentityKey = "identity"
	ContextTokenKey    = "token"
)

// BearerAuth resolves the bearer token to an identity and stashes both on
// the request context for the handlers.
func BearerAuth(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, errcode.ErrUnauthorized, "invalid authorization")
			c.Abort()
			return
		}
		token := strings.TrimSpace(parts[1])
		identity, err := resolver.Identity(c.Request.Context(), token)
		if err != nil {
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextIdentityKey, identity)
		c.Set(ContextTokenKey, token)
		c.Next()
	}
}

// Identity returns the resolved identity for the request, if any.
func Identity(c *gin.Context) string {
	if v, ok := c.Get(ContextIdentityKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Token returns the raw bearer token for the request, if any.
func Token(c *gin.Context) string {
	if v, ok := c.Get(ContextTokenKey); ok {
		if t, ok := v.(string); ok {
			return t
		}
	}
	return ""
}
