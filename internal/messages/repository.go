// Package messages persists direct messages and runs the send pipeline that
// validates, stores, pushes and publishes each new message.
package messages

import (
	"context"
	"sort"
	"sync"

	"github.com/chatly/chat-app/internal/chat"
)

// Repository persists messages. Create expects ID and CreatedAt to be set.
type Repository interface {
	Create(ctx context.Context, msg chat.Message) (chat.Message, error)
	// ListBetween returns the conversation between a and b in ascending
	// creation order.
	ListBetween(ctx context.Context, a, b string) ([]chat.Message, error)
}

// MemoryRepository keeps messages in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	msgs []chat.Message
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, msg chat.Message) (chat.Message, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return msg, nil
}

func (r *MemoryRepository) ListBetween(_ context.Context, a, b string) ([]chat.Message, error) {
	r.mu.RLock()
	out := make([]chat.Message, 0)
	for _, m := range r.msgs {
		if m.Involves(a, b) {
			out = append(out, m)
		}
	}
	r.mu.RUnlock()
	sortMessages(out)
	return out, nil
}

func sortMessages(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
