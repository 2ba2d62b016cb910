package chat

// Event types published on the message bus.
const (
	EventMessageCreated = "message_created"
	EventPresence       = "presence"
)

// Event is the payload published to NATS chat.* subjects so that external
// consumers (audit, analytics) can observe activity on this server.
type Event struct {
	Type    string   `json:"type"`               // "message_created", "presence"
	Server  string   `json:"server"`             // originating server instance
	Message *Message `json:"message,omitempty"`  // for message_created
	UserIDs []string `json:"user_ids,omitempty"` // for presence
	Ts      int64    `json:"ts"`                 // unix millis
}
