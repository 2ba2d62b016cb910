package ws

import (
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/protocol"
)

// MessageDispatcher answers incoming client frames. Messages travel over
// REST, so the socket only carries application pings; anything else gets an
// error reply.
type MessageDispatcher struct {
	log *zap.Logger
}

// NewMessageDispatcher creates a dispatcher.
func NewMessageDispatcher(logger *zap.Logger) *MessageDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageDispatcher{log: logger}
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, _, err := protocol.ParseClientMessage(data)
	if err != nil && msgType == "" {
		d.log.Debug("ws: dispatch parse error",
			zap.String("session", conn.ID()),
			zap.Error(err))
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	d.log.Debug("ws: unsupported message type",
		zap.String("type", msgType),
		zap.String("session", conn.ID()))
	d.sendError(conn, "unsupported_type", "unsupported message type")
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	if err := conn.Send(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message}); err != nil {
		d.log.Debug("ws: failed to send error message",
			zap.String("session", conn.ID()),
			zap.Error(err))
	}
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch()
	if err := conn.Send(protocol.TypePong, protocol.PongMsg{}); err != nil {
		d.log.Debug("ws: failed to send pong",
			zap.String("session", conn.ID()),
			zap.Error(err))
	}
}
