package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chatly/chat-app/internal/ratelimit"
	"github.com/chatly/chat-app/internal/users"
)

const headerRemaining = "X-RateLimit-Remaining"

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

func (h *Handler) sidebarUsers(c *gin.Context) {
	list, err := h.users.ListExcept(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if list == nil {
		list = []users.User{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) history(c *gin.Context) {
	other := c.Param("id")
	if _, err := h.users.GetByID(c.Request.Context(), other); err != nil {
		h.writeError(c, err)
		return
	}
	msgs, err := h.messages.History(c.Request.Context(), currentUser(c), other)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) send(c *gin.Context) {
	receiver := c.Param("id")
	var in sendRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := h.users.GetByID(c.Request.Context(), receiver); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			abortWithMessage(c, http.StatusNotFound, "receiver not found")
			return
		}
		h.writeError(c, err)
		return
	}
	msg, err := h.messages.Send(c.Request.Context(), currentUser(c), receiver, in.Text, in.Image)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.opts.Limiter != nil {
		if left, err := h.opts.Limiter.Remaining(c.Request.Context(), currentUser(c), ratelimit.RuleSend); err == nil {
			c.Header(headerRemaining, strconv.Itoa(left))
		}
	}
	c.JSON(http.StatusCreated, msg)
}
