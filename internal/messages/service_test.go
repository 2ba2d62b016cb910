package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/media"
	"github.com/chatly/chat-app/internal/ratelimit"
)

type recordingRouter struct{ routed []chat.Message }

func (r *recordingRouter) Route(msg chat.Message) bool {
	r.routed = append(r.routed, msg)
	return true
}

type recordingPublisher struct {
	published []chat.Message
	err       error
}

func (p *recordingPublisher) PublishMessageCreated(msg chat.Message) error {
	p.published = append(p.published, msg)
	return p.err
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, ratelimit.Rule) (bool, error) { return false, nil }

type stubUploader struct {
	url string
	err error
}

func (u stubUploader) Upload(context.Context, string) (string, error) { return u.url, u.err }

type failingRepo struct{ MemoryRepository }

func (*failingRepo) Create(context.Context, chat.Message) (chat.Message, error) {
	return chat.Message{}, errors.New("disk full")
}

func newTestService(repo Repository) (*Service, *recordingRouter, *recordingPublisher) {
	router := &recordingRouter{}
	pub := &recordingPublisher{}
	svc := NewService(repo, router, nil)
	svc.SetPublisher(pub)
	return svc, router, pub
}

func TestSend_PersistsRoutesAndPublishes(t *testing.T) {
	repo := NewMemoryRepository()
	svc, router, pub := newTestService(repo)

	msg, err := svc.Send(context.Background(), "alice", "bob", "hello", "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.False(t, msg.CreatedAt.IsZero())

	stored, err := repo.ListBetween(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	require.Len(t, router.routed, 1)
	assert.Equal(t, msg.ID, router.routed[0].ID)
	require.Len(t, pub.published, 1)
}

func TestSend_RejectsEmpty(t *testing.T) {
	svc, router, _ := newTestService(NewMemoryRepository())

	_, err := svc.Send(context.Background(), "alice", "bob", "   ", "")
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)
	assert.Empty(t, router.routed)
}

func TestSend_RejectsMissingReceiver(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryRepository())

	_, err := svc.Send(context.Background(), "alice", "", "hi", "")
	assert.ErrorIs(t, err, chat.ErrInvalidContent)
}

func TestSend_PersistFailureSkipsRouting(t *testing.T) {
	svc, router, pub := newTestService(&failingRepo{})

	_, err := svc.Send(context.Background(), "alice", "bob", "hi", "")
	require.Error(t, err)
	assert.Empty(t, router.routed)
	assert.Empty(t, pub.published)
}

func TestSend_PublishFailureIsNotFatal(t *testing.T) {
	svc, router, pub := newTestService(NewMemoryRepository())
	pub.err = errors.New("nats down")

	_, err := svc.Send(context.Background(), "alice", "bob", "hi", "")
	require.NoError(t, err)
	assert.Len(t, router.routed, 1)
}

func TestSend_RateLimited(t *testing.T) {
	svc, router, _ := newTestService(NewMemoryRepository())
	svc.SetLimiter(denyLimiter{})

	_, err := svc.Send(context.Background(), "alice", "bob", "hi", "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Empty(t, router.routed)
}

func TestSend_ImageUpload(t *testing.T) {
	svc, router, _ := newTestService(NewMemoryRepository())
	svc.SetUploader(stubUploader{url: "https://cdn/images/a.png"})

	msg, err := svc.Send(context.Background(), "alice", "bob", "", "data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/images/a.png", msg.ImageURL)
	assert.Empty(t, msg.Text)
	assert.Len(t, router.routed, 1)
}

func TestSend_ImageUploadFailure(t *testing.T) {
	repo := NewMemoryRepository()
	svc, router, _ := newTestService(repo)

	_, err := svc.Send(context.Background(), "alice", "bob", "look", "data:image/png;base64,AAAA")
	assert.ErrorIs(t, err, media.ErrDisabled)
	assert.Empty(t, router.routed)

	stored, _ := repo.ListBetween(context.Background(), "alice", "bob")
	assert.Empty(t, stored)
}

func TestHistory_OrderedAndScoped(t *testing.T) {
	repo := NewMemoryRepository()
	svc, _, _ := newTestService(repo)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }

	send := func(from, to, text string) {
		t.Helper()
		_, err := svc.Send(context.Background(), from, to, text, "")
		require.NoError(t, err)
		clock = clock.Add(time.Second)
	}
	send("alice", "bob", "one")
	send("bob", "alice", "two")
	send("alice", "carol", "other")
	send("alice", "bob", "three")

	history, err := svc.History(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Text)
	assert.Equal(t, "two", history[1].Text)
	assert.Equal(t, "three", history[2].Text)
}

func TestHistory_EmptyIsNotNil(t *testing.T) {
	svc, _, _ := newTestService(NewMemoryRepository())

	history, err := svc.History(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}
