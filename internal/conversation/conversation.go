// Package conversation holds the client-side view of a one-to-one
// conversation as a set of pure state transitions: a view is scoped to one
// counterpart, contains each message at most once, and is always sorted by
// creation time.
package conversation

import (
	"slices"
	"strings"

	"github.com/chatly/chat-app/internal/chat"
)

// State is an immutable snapshot of the conversation between Self and
// Counterpart. Transitions return a new State and never mutate Messages in
// place.
type State struct {
	Self        string
	Counterpart string
	Messages    []chat.Message
}

// New returns an empty view of the conversation with counterpart.
func New(self, counterpart string) State {
	return State{Self: self, Counterpart: counterpart}
}

// Active reports whether a counterpart is selected.
func (s State) Active() bool {
	return s.Counterpart != ""
}

// Accepts reports whether msg belongs to this conversation.
func (s State) Accepts(msg chat.Message) bool {
	return s.Active() && msg.Involves(s.Self, s.Counterpart)
}

// Contains reports whether a message with id is already in the view.
func (s State) Contains(id string) bool {
	return slices.ContainsFunc(s.Messages, func(m chat.Message) bool { return m.ID == id })
}

// Merge inserts msg and re-sorts, returning the new state and true. A message
// outside the conversation or whose ID is already present leaves the state
// unchanged and returns false.
func Merge(s State, msg chat.Message) (State, bool) {
	if !s.Accepts(msg) || s.Contains(msg.ID) {
		return s, false
	}
	next := make([]chat.Message, 0, len(s.Messages)+1)
	next = append(next, s.Messages...)
	next = append(next, msg)
	sortMessages(next)
	s.Messages = next
	return s, true
}

// Load merges a fetched history into s. It is used both for the initial
// fetch after selecting a counterpart and for catch-up after a reconnect, so
// messages already present are kept and duplicates dropped.
func Load(s State, history []chat.Message) State {
	next := make([]chat.Message, 0, len(s.Messages)+len(history))
	next = append(next, s.Messages...)
	seen := make(map[string]struct{}, cap(next))
	for _, m := range next {
		seen[m.ID] = struct{}{}
	}
	for _, m := range history {
		if !s.Accepts(m) {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		next = append(next, m)
	}
	sortMessages(next)
	s.Messages = next
	return s
}

func sortMessages(msgs []chat.Message) {
	slices.SortStableFunc(msgs, func(a, b chat.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
