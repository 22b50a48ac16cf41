package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/auth"
	"github.com/vovakirdan/citychat/internal/core"
	"github.com/vovakirdan/citychat/internal/store"
)

// ContextKeyUser is the context key for the authenticated *store.User.
const ContextKeyUser = "user"

// AuthMiddleware creates a middleware that validates bearer tokens.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			abortUnauthorized(c, "missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		user, err := authService.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(ContextKeyUser, user)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	writeError(c, core.NewError(core.KindUnauthorized, core.ErrCodeUnauthorized, msg))
	c.Abort()
}

// currentUser returns the user stored by AuthMiddleware.
func currentUser(c *gin.Context) *store.User {
	v, ok := c.Get(ContextKeyUser)
	if !ok {
		return nil
	}
	u, _ := v.(*store.User)
	return u
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
