package realtime

import (
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/metrics"
	"github.com/chatly/chat-app/internal/protocol"
)

// PresencePublisher forwards presence snapshots to an external bus.
type PresencePublisher interface {
	PublishPresence(online []string) error
}

// Broadcaster sends the full online set to every connected client whenever
// the registry changes. Write failures are logged and otherwise ignored; the
// transport evicts dead connections on its own read path.
type Broadcaster struct {
	audience  Audience
	publisher PresencePublisher
	log       *zap.Logger
}

// NewBroadcaster creates a Broadcaster over audience. publisher may be nil.
func NewBroadcaster(audience Audience, publisher PresencePublisher, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{audience: audience, publisher: publisher, log: logger}
}

// PresenceChanged implements PresenceNotifier.
func (b *Broadcaster) PresenceChanged(online []string) {
	b.BroadcastPresence(online)
}

// BroadcastPresence emits online_users with the given set to every peer,
// unconditionally.
func (b *Broadcaster) BroadcastPresence(online []string) {
	if online == nil {
		online = []string{}
	}
	payload := protocol.OnlineUsersMsg{UserIDs: online}

	peers := b.audience.Peers()
	for _, c := range peers {
		if !c.IsOpen() {
			continue
		}
		if err := c.Send(protocol.TypeOnlineUsers, payload); err != nil {
			b.log.Warn("[presence] send failed",
				zap.String("conn", c.ID()),
				zap.Error(err))
		}
	}

	metrics.OnlineUsers.Set(float64(len(online)))
	metrics.PresenceBroadcasts.Inc()

	if b.publisher != nil {
		if err := b.publisher.PublishPresence(online); err != nil {
			b.log.Warn("[presence] publish failed", zap.Error(err))
		}
	}

	b.log.Debug("[presence] broadcast",
		zap.Int("online", len(online)),
		zap.Int("peers", len(peers)))
}
