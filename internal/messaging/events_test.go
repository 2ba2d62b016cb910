package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatly/chat-app/internal/chat"
)

type capturedBus struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (b *capturedBus) Publish(subject string, data []byte) error {
	b.subjects = append(b.subjects, subject)
	b.payloads = append(b.payloads, data)
	return b.err
}

func fixedPublisher(bus Bus) *EventPublisher {
	p := NewEventPublisher(bus, "srv-1")
	p.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return p
}

func TestPublishMessageCreated(t *testing.T) {
	bus := &capturedBus{}
	msg := chat.Message{ID: "m1", SenderID: "a", ReceiverID: "b", Text: "hi", CreatedAt: time.Unix(10, 0).UTC()}

	require.NoError(t, fixedPublisher(bus).PublishMessageCreated(msg))
	require.Equal(t, []string{SubjectMessageCreated}, bus.subjects)

	ev, err := DecodeEvent(bus.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, chat.EventMessageCreated, ev.Type)
	assert.Equal(t, "srv-1", ev.Server)
	assert.Equal(t, int64(1700000000000), ev.Ts)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "m1", ev.Message.ID)
}

func TestPublishPresence(t *testing.T) {
	bus := &capturedBus{}
	require.NoError(t, fixedPublisher(bus).PublishPresence([]string{"a", "b"}))

	ev, err := DecodeEvent(bus.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, SubjectPresence, bus.subjects[0])
	assert.Equal(t, []string{"a", "b"}, ev.UserIDs)
	assert.Nil(t, ev.Message)
}

func TestPublish_WrapsBusError(t *testing.T) {
	busErr := errors.New("no responders")
	err := fixedPublisher(&capturedBus{err: busErr}).PublishPresence(nil)
	assert.ErrorIs(t, err, busErr)
}

func TestDecodeEvent_Invalid(t *testing.T) {
	_, err := DecodeEvent([]byte("{"))
	assert.Error(t, err)
}
