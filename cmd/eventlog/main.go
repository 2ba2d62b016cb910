// Command eventlog subscribes to the chat.* event stream, logs every event
// and audits message text for spam and blocked terms.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/logging"
	"github.com/chatly/chat-app/internal/messaging"
	"github.com/chatly/chat-app/internal/moderation"
)

func main() {
	logger, err := logging.New(envOr("LOG_LEVEL", "info"), envOr("LOG_FORMAT", "console"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = envOr("NATS_URL", natsConfig.URL)
	natsConfig.Name = "chat-eventlog"

	nc, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}

	h := newHandler(moderation.NewAuditor(splitTerms(os.Getenv("MODERATION_TERMS"))), logger)
	if err := nc.Subscribe(messaging.SubjectAll, h.handle); err != nil {
		logger.Fatal("failed to subscribe", zap.String("subject", messaging.SubjectAll), zap.Error(err))
	}

	logger.Info("event log running", zap.String("nats_url", natsConfig.URL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
	nc.Close()
}

type handler struct {
	auditor *moderation.Auditor
	log     *zap.Logger
}

func newHandler(a *moderation.Auditor, logger *zap.Logger) *handler {
	return &handler{auditor: a, log: logger}
}

func (h *handler) handle(subject string, data []byte) {
	ev, err := messaging.DecodeEvent(data)
	if err != nil {
		h.log.Warn("[eventlog] dropping malformed event", zap.String("subject", subject), zap.Error(err))
		return
	}

	switch ev.Type {
	case chat.EventMessageCreated:
		if ev.Message == nil {
			h.log.Warn("[eventlog] message event without message", zap.String("server", ev.Server))
			return
		}
		h.log.Info("[eventlog] message created",
			zap.String("server", ev.Server),
			zap.String("id", ev.Message.ID),
			zap.String("from", ev.Message.SenderID),
			zap.String("to", ev.Message.ReceiverID),
			zap.Bool("image", ev.Message.ImageURL != ""))
		if f, ok := h.auditor.AuditEvent(ev); ok {
			h.log.Warn("[eventlog] message flagged",
				zap.String("id", f.MessageID),
				zap.String("from", f.SenderID),
				zap.String("rule", f.Rule),
				zap.String("term", f.Term))
		}
	case chat.EventPresence:
		h.log.Info("[eventlog] presence",
			zap.String("server", ev.Server),
			zap.Int("online", len(ev.UserIDs)))
	default:
		h.log.Debug("[eventlog] unknown event", zap.String("subject", subject), zap.String("type", ev.Type))
	}
}

func splitTerms(v string) []string {
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
