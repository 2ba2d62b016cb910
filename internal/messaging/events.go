package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatly/chat-app/internal/chat"
)

// Bus is the publish side of a message bus. NATSClient implements it.
type Bus interface {
	Publish(subject string, data []byte) error
}

// EventPublisher encodes chat domain events and publishes them on a Bus.
type EventPublisher struct {
	bus    Bus
	server string
	now    func() time.Time
}

// NewEventPublisher creates a publisher that stamps events with server.
func NewEventPublisher(bus Bus, server string) *EventPublisher {
	return &EventPublisher{bus: bus, server: server, now: time.Now}
}

// PublishMessageCreated announces a persisted message.
func (p *EventPublisher) PublishMessageCreated(msg chat.Message) error {
	return p.publish(SubjectMessageCreated, chat.Event{
		Type:    chat.EventMessageCreated,
		Message: &msg,
	})
}

// PublishPresence announces the online set held by this server.
func (p *EventPublisher) PublishPresence(online []string) error {
	return p.publish(SubjectPresence, chat.Event{
		Type:    chat.EventPresence,
		UserIDs: online,
	})
}

func (p *EventPublisher) publish(subject string, ev chat.Event) error {
	ev.Server = p.server
	ev.Ts = p.now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: encode %s: %w", ev.Type, err)
	}
	if err := p.bus.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

// DecodeEvent parses an event received on a chat.* subject.
func DecodeEvent(data []byte) (chat.Event, error) {
	var ev chat.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("messaging: decode event: %w", err)
	}
	return ev, nil
}
