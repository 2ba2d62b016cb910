// Package chat defines the one-to-one message model shared by the store, the
// real-time router and the client, together with content validation rules.
package chat

import "time"

// Message is a single direct message between two users. It is immutable once
// persisted; at least one of Text or ImageURL is non-empty.
type Message struct {
	ID         string    `json:"id" bson:"_id"`
	SenderID   string    `json:"sender_id" bson:"sender_id"`
	ReceiverID string    `json:"receiver_id" bson:"receiver_id"`
	Text       string    `json:"text,omitempty" bson:"text,omitempty"`
	ImageURL   string    `json:"image_url,omitempty" bson:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// Involves reports whether the message was exchanged between a and b, in
// either direction.
func (m Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

// Counterpart returns the other participant from userID's point of view.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}
