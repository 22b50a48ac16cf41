package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/citychat/internal/auth"
	"github.com/vovakirdan/citychat/internal/proto"
)

// DevHandlers issue tokens for the development backend.
type DevHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewDevHandlers creates a new dev handlers instance.
func NewDevHandlers(authService *auth.Service, logger *zerolog.Logger) *DevHandlers {
	return &DevHandlers{
		authService: authService,
		log:         logger,
	}
}

// IssueToken creates the user on first use and returns a bearer token.
// POST /api/dev/token
func (h *DevHandlers) IssueToken(c *gin.Context) {
	var req proto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid token request")
		writeError(c, badRequest("invalid request body"))
		return
	}

	token, err := h.authService.IssueToken(c.Request.Context(), req.Username, req.DisplayName)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidUsername) {
			writeError(c, badRequest("username must be 2-32 characters without spaces"))
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to issue token")
		writeError(c, err)
		return
	}

	h.log.Info().Str("username", token.User.Username).Msg("token issued")
	writeData(c, http.StatusOK, proto.TokenResponse{
		Token:     token.Value,
		UserID:    token.User.ID,
		Username:  token.User.Username,
		ExpiresAt: token.ExpiresAt,
	})
}
