package client

import (
	"context"
	"slices"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/conversation"
)

// SelectCounterpart switches the active conversation to userID. The current
// handler is detached and the view reset first; the full history is then
// fetched and the handler attached only once the fetch returns. If another
// selection happens meanwhile, this one is discarded with ErrSuperseded.
//
// A failed fetch still attaches the handler so later pushes are shown; the
// error is returned to the caller.
func (c *Client) SelectCounterpart(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	c.gen++
	gen := c.gen
	c.attached = false
	c.view = conversation.New(c.self.ID, userID)
	token := c.token
	fn := c.onMessages
	c.mu.Unlock()

	if fn != nil {
		fn([]chat.Message{})
	}

	history, err := c.rest.history(ctx, token, userID)
	if authLost(err) {
		return c.sessionErr(token, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if err == nil {
		c.view = conversation.Load(c.view, history)
	}
	c.attached = true
	snapshot := slices.Clone(c.view.Messages)
	fn = c.onMessages
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return err
}

// ClearSelection detaches the handler and empties the view.
func (c *Client) ClearSelection() {
	c.mu.Lock()
	c.gen++
	c.attached = false
	c.view = conversation.New(c.self.ID, "")
	c.mu.Unlock()
}

// Conversation returns a snapshot of the current view.
func (c *Client) Conversation() conversation.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.view
	s.Messages = slices.Clone(s.Messages)
	return s
}

// Attached reports whether pushes are currently merged into the view.
func (c *Client) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// Send posts a message to the selected counterpart and merges the stored
// message into the view. The push the server may also deliver is deduplicated
// by id.
func (c *Client) Send(ctx context.Context, text, image string) (chat.Message, error) {
	c.mu.Lock()
	token := c.token
	counterpart := c.view.Counterpart
	c.mu.Unlock()

	if token == "" {
		return chat.Message{}, ErrNotAuthenticated
	}
	if counterpart == "" {
		return chat.Message{}, ErrNoCounterpart
	}

	msg, err := c.rest.send(ctx, token, counterpart, text, image)
	if err != nil {
		return chat.Message{}, c.sessionErr(token, err)
	}

	c.mu.Lock()
	next, changed := conversation.Merge(c.view, msg)
	if !changed {
		c.mu.Unlock()
		return msg, nil
	}
	c.view = next
	snapshot := slices.Clone(next.Messages)
	fn := c.onMessages
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
	return msg, nil
}

// History fetches the conversation with other without touching the view.
func (c *Client) History(ctx context.Context, other string) ([]chat.Message, error) {
	token, err := c.requireToken()
	if err != nil {
		return nil, err
	}
	msgs, err := c.rest.history(ctx, token, other)
	return msgs, c.sessionErr(token, err)
}
