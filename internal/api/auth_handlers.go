package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/auth"
	"github.com/chatly/chat-app/internal/ratelimit"
	"github.com/chatly/chat-app/internal/users"
)

// authResponse is a user with an optional freshly issued token.
type authResponse struct {
	users.User
	Token string `json:"token,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type profileRequest struct {
	ProfilePic string `json:"profile_pic"`
}

func (h *Handler) signup(c *gin.Context) {
	var in auth.SignupInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid request body")
		return
	}
	u, token, err := h.auth.Signup(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setTokenCookie(c, token)
	c.JSON(http.StatusCreated, authResponse{User: u, Token: token})
}

func (h *Handler) login(c *gin.Context) {
	if h.opts.Limiter != nil {
		allowed, err := h.opts.Limiter.Allow(c.Request.Context(), c.ClientIP(), ratelimit.RuleLogin)
		if err != nil {
			h.log.Warn("[api] login rate limit check failed", zap.Error(err))
		}
		if !allowed {
			abortWithMessage(c, http.StatusTooManyRequests, "too many login attempts")
			return
		}
	}

	var in loginRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid request body")
		return
	}
	u, token, err := h.auth.Login(c.Request.Context(), in.Username, in.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setTokenCookie(c, token)
	c.JSON(http.StatusOK, authResponse{User: u, Token: token})
}

func (h *Handler) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.opts.SecureCookie, true)
	c.JSON(http.StatusOK, errorResponse{Message: "Logged out successfully"})
}

func (h *Handler) updateProfile(c *gin.Context) {
	var in profileRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		abortWithMessage(c, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := h.auth.UpdateProfile(c.Request.Context(), currentUser(c), in.ProfilePic)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) check(c *gin.Context) {
	u, err := h.auth.Check(c.Request.Context(), currentUser(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) setTokenCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(auth.CookieName, token, int(h.auth.TokenTTL().Seconds()), "/", "", h.opts.SecureCookie, true)
}
