package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/rekberpay/internal/identity"
	"github.com/mbd888/rekberpay/internal/logging"
)

// ContextKeyActor is the gin context key holding the authenticated identity.Actor.
const ContextKeyActor = "authActor"

// Middleware extracts and verifies the bearer token.
// Sets the actor in context if valid; never aborts.
// Browsers cannot set headers on WebSocket upgrades, so the token may also
// arrive as the access_token query parameter.
func Middleware(i *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}

		if raw != "" {
			actor, err := i.Verify(raw)
			if err == nil {
				SetActor(c, actor)
			} else if errors.Is(err, ErrExpiredToken) {
				c.Set("authExpired", true)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a valid token.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ActorFrom(c); !ok {
			msg := "Bearer token required. Include 'Authorization: Bearer <token>' header."
			if c.GetBool("authExpired") {
				msg = "Bearer token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": msg,
			})
			return
		}
		c.Next()
	}
}

// RequireRole requires auth and one of the given roles.
func RequireRole(roles ...identity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required",
			})
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Insufficient role for this endpoint",
		})
	}
}

// SetActor stores the actor in the gin context and in the request context
// so downstream logs carry the user id.
func SetActor(c *gin.Context, actor identity.Actor) {
	c.Set(ContextKeyActor, actor)
	c.Request = c.Request.WithContext(logging.WithUserID(c.Request.Context(), actor.UserID))
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(c *gin.Context) (identity.Actor, bool) {
	v, exists := c.Get(ContextKeyActor)
	if !exists {
		return identity.Actor{}, false
	}
	actor, ok := v.(identity.Actor)
	return actor, ok
}

// Context returns the request context and actor for a handler running
// behind RequireAuth. It aborts with 401 and returns false otherwise.
func Context(c *gin.Context) (context.Context, identity.Actor, bool) {
	actor, ok := ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Bearer token required",
		})
		return nil, identity.Actor{}, false
	}
	return c.Request.Context(), actor, true
}

func bearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
