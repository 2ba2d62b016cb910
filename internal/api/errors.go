package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/auth"
	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/media"
	"github.com/chatly/chat-app/internal/messages"
	"github.com/chatly/chat-app/internal/users"
)

type errorResponse struct {
	Message string `json:"message"`
}

func abortWithMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Message: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrValidation),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidContent),
		errors.Is(err, media.ErrInvalidImage),
		errors.Is(err, media.ErrDisabled):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrEmailTaken),
		errors.Is(err, users.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, messages.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("[api] request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		msg = "Internal server error"
	}
	abortWithMessage(c, status, msg)
}
