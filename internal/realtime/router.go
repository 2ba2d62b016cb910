package realtime

import (
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/metrics"
	"github.com/chatly/chat-app/internal/protocol"
)

// Locator resolves a user to their live connection.
type Locator interface {
	Lookup(userID string) (Conn, bool)
}

// Router pushes persisted messages to the recipient's live connection.
// Delivery is best effort: an offline recipient is not an error, the message
// simply stays in the store until the next history fetch.
type Router struct {
	locator Locator
	log     *zap.Logger
}

// NewRouter creates a Router that resolves recipients through locator.
func NewRouter(locator Locator, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{locator: locator, log: logger}
}

// Route pushes msg to its receiver and reports whether a push was made. It
// must only be called after msg has been persisted. Messages addressed to
// the sender are never pushed.
func (r *Router) Route(msg chat.Message) bool {
	if msg.ReceiverID == msg.SenderID {
		metrics.MessagesRouted.WithLabelValues(metrics.RouteSelf).Inc()
		return false
	}

	conn, ok := r.locator.Lookup(msg.ReceiverID)
	if !ok || !conn.IsOpen() {
		metrics.MessagesRouted.WithLabelValues(metrics.RouteOffline).Inc()
		r.log.Debug("[router] receiver offline",
			zap.String("message", msg.ID),
			zap.String("receiver", msg.ReceiverID))
		return false
	}

	if err := conn.Send(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: msg}); err != nil {
		metrics.MessagesRouted.WithLabelValues(metrics.RouteFailed).Inc()
		r.log.Warn("[router] push failed",
			zap.String("message", msg.ID),
			zap.String("receiver", msg.ReceiverID),
			zap.String("conn", conn.ID()),
			zap.Error(err))
		return false
	}

	metrics.MessagesRouted.WithLabelValues(metrics.RouteDelivered).Inc()
	return true
}
