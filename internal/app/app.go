// Package app assembles the chat server: the socket transport, the
// connection registry with its presence broadcaster and message router, and
// the REST API, all sharing one HTTP listener.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/api"
	"github.com/chatly/chat-app/internal/auth"
	"github.com/chatly/chat-app/internal/config"
	"github.com/chatly/chat-app/internal/media"
	"github.com/chatly/chat-app/internal/messages"
	"github.com/chatly/chat-app/internal/messaging"
	"github.com/chatly/chat-app/internal/metrics"
	"github.com/chatly/chat-app/internal/ratelimit"
	"github.com/chatly/chat-app/internal/realtime"
	"github.com/chatly/chat-app/internal/users"
	"github.com/chatly/chat-app/internal/ws"
)

// Limiter throttles requests by identifier.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// Deps are the external collaborators. Users and Messages are required; the
// rest are optional and disable their feature when nil.
type Deps struct {
	Users    users.Repository
	Messages messages.Repository
	Uploader media.Uploader
	Sessions ws.SessionStore
	Limiter  Limiter
	Events   messaging.Bus
}

// Options configures the assembled server.
type Options struct {
	Server         ws.ServerConfig
	ServerName     string
	JWTSecret      []byte
	TokenTTL       time.Duration
	CookieSecure   bool
	TrustedProxies []string // CIDRs or IPs allowed to set X-Forwarded-For
}

// OptionsFromConfig maps the process configuration onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	server := ws.DefaultServerConfig()
	server.ListenAddr = cfg.ListenAddr
	server.WorkerPoolSize = cfg.WorkerPoolSize
	server.MaxConnections = cfg.MaxConnections
	server.ReadTimeout = cfg.ReadTimeout
	server.WriteTimeout = cfg.WriteTimeout
	server.OutboundQueue = cfg.OutboundQueue
	server.Heartbeat = ws.HeartbeatConfig{
		Interval: cfg.HeartbeatInterval,
		Timeout:  cfg.HeartbeatTimeout,
	}
	return Options{
		Server:         server,
		ServerName:     cfg.ServerName,
		JWTSecret:      []byte(cfg.JWTSecret),
		TokenTTL:       cfg.TokenTTL,
		CookieSecure:   cfg.CookieSecure,
		TrustedProxies: cfg.TrustedProxies,
	}
}

// App is a wired chat server.
type App struct {
	Server   *ws.Server
	Registry *realtime.Registry
	Router   *realtime.Router
	Auth     *auth.Service
	Messages *messages.Service
	log      *zap.Logger
}

// New wires every component. The returned App is not listening yet.
func New(opts Options, deps Deps, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Users == nil || deps.Messages == nil {
		return nil, errors.New("app: users and messages repositories are required")
	}
	if len(opts.JWTSecret) == 0 {
		return nil, errors.New("app: jwt secret is required")
	}
	proxies, err := parseProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	dispatcher := ws.NewMessageDispatcher(logger)
	server, err := ws.NewServer(opts.Server, deps.Sessions, dispatcher.Dispatch, logger)
	if err != nil {
		return nil, err
	}

	var (
		events      *messaging.EventPublisher
		presencePub realtime.PresencePublisher
	)
	if deps.Events != nil {
		events = messaging.NewEventPublisher(deps.Events, opts.ServerName)
		presencePub = events
	}

	broadcaster := realtime.NewBroadcaster(server.Connections(), presencePub, logger)
	registry := realtime.NewRegistry(broadcaster, logger)
	router := realtime.NewRouter(registry, logger)

	authSvc := auth.NewService(deps.Users, opts.JWTSecret, opts.TokenTTL, logger)
	msgSvc := messages.NewService(deps.Messages, router, logger)
	if deps.Uploader != nil {
		authSvc.SetUploader(deps.Uploader)
		msgSvc.SetUploader(deps.Uploader)
	}
	if events != nil {
		msgSvc.SetPublisher(events)
	}
	if deps.Limiter != nil {
		msgSvc.SetLimiter(deps.Limiter)
		server.SetAdmission(func(r *http.Request) bool {
			ok, _ := deps.Limiter.Allow(r.Context(), proxies.clientIP(r), ratelimit.RuleConnect)
			return ok
		})
	}

	server.SetAuthenticator(authSvc.UserFromRequest)
	server.SetOnConnect(func(c *ws.Connection) {
		registry.Register(c.UserID, c)
	})
	server.SetOnDisconnect(func(c *ws.Connection) {
		registry.Unregister(c.UserID, c)
	})
	server.SetOnlineCounter(registry.Count)

	handler := api.NewHandler(authSvc, deps.Users, msgSvc, api.Options{
		SecureCookie:   opts.CookieSecure,
		Limiter:        deps.Limiter,
		TrustedProxies: opts.TrustedProxies,
	}, logger)
	server.Handle("/api/", handler.Router())
	server.Handle("/metrics", metrics.Handler())

	return &App{
		Server:   server,
		Registry: registry,
		Router:   router,
		Auth:     authSvc,
		Messages: msgSvc,
		log:      logger,
	}, nil
}

// Start listens on the configured address and blocks until shutdown.
func (a *App) Start() error {
	return a.Server.Start()
}

// Serve accepts connections on ln and blocks until shutdown.
func (a *App) Serve(ln net.Listener) error {
	return a.Server.Serve(ln)
}

// Shutdown stops accepting connections and closes every live socket.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Server.Shutdown(ctx)
}
