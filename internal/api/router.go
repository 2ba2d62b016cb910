// Package api exposes the REST surface of the chat server: account
// management, the user directory and message history and sending.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/auth"
	"github.com/chatly/chat-app/internal/messages"
	"github.com/chatly/chat-app/internal/ratelimit"
	"github.com/chatly/chat-app/internal/users"
)

const ctxUserID = "user_id"

// Limiter throttles requests by identifier.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// Options tunes the HTTP surface.
type Options struct {
	SecureCookie   bool
	Limiter        Limiter  // optional, applied to login attempts
	TrustedProxies []string // peers allowed to set X-Forwarded-For; nil trusts none
}

// Handler serves the REST routes.
type Handler struct {
	auth     *auth.Service
	users    users.Repository
	messages *messages.Service
	opts     Options
	log      *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(authSvc *auth.Service, userRepo users.Repository, msgSvc *messages.Service, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{auth: authSvc, users: userRepo, messages: msgSvc, opts: opts, log: logger}
}

// Router builds the gin engine with every route mounted under /api.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(h.opts.TrustedProxies); err != nil {
		h.log.Warn("[api] invalid trusted proxies, trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), h.requestLogger())

	authGroup := r.Group("/api/auth")
	authGroup.POST("/signup", h.signup)
	authGroup.POST("/login", h.login)
	authGroup.POST("/logout", h.logout)
	authGroup.PUT("/update-profile", h.requireAuth(), h.updateProfile)
	authGroup.GET("/check", h.requireAuth(), h.check)

	msgGroup := r.Group("/api/messages", h.requireAuth())
	msgGroup.GET("/users", h.sidebarUsers)
	msgGroup.GET("/:id", h.history)
	msgGroup.POST("/send/:id", h.send)

	return r
}

func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := h.auth.UserFromRequest(c.Request)
		if err != nil {
			abortWithMessage(c, http.StatusUnauthorized, "Unauthorized - invalid or missing token")
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("[api] request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
