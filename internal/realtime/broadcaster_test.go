package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/protocol"
)

type stubPublisher struct {
	got [][]string
	err error
}

func (p *stubPublisher) PublishPresence(online []string) error {
	p.got = append(p.got, online)
	return p.err
}

func TestBroadcaster_SendsToEveryPeer(t *testing.T) {
	aud := &fakeAudience{}
	registered := newFakeConn("a")
	anonymous := newFakeConn("b")
	aud.add(registered)
	aud.add(anonymous)

	b := NewBroadcaster(aud, nil, nil)
	b.BroadcastPresence([]string{"userA"})

	for _, c := range []*fakeConn{registered, anonymous} {
		ev := c.events()
		require.Len(t, ev, 1, "conn %s", c.ID())
		assert.Equal(t, protocol.TypeOnlineUsers, ev[0].event)
		assert.Equal(t, protocol.OnlineUsersMsg{UserIDs: []string{"userA"}}, ev[0].payload)
	}
}

func TestBroadcaster_IgnoresWriteFailures(t *testing.T) {
	aud := &fakeAudience{}
	bad := newFakeConn("bad")
	bad.failing = true
	good := newFakeConn("good")
	aud.add(bad)
	aud.add(good)

	b := NewBroadcaster(aud, nil, nil)
	b.BroadcastPresence([]string{"x"})

	assert.Len(t, good.events(), 1)
}

func TestBroadcaster_SkipsClosedPeers(t *testing.T) {
	aud := &fakeAudience{}
	closed := newFakeConn("closed")
	closed.closed = true
	aud.add(closed)

	NewBroadcaster(aud, nil, nil).BroadcastPresence([]string{"x"})
	assert.Empty(t, closed.events())
}

func TestBroadcaster_EmptySetIsNotNil(t *testing.T) {
	aud := &fakeAudience{}
	c := newFakeConn("c")
	aud.add(c)

	NewBroadcaster(aud, nil, nil).BroadcastPresence(nil)

	ev := c.events()
	require.Len(t, ev, 1)
	msg := ev[0].payload.(protocol.OnlineUsersMsg)
	assert.NotNil(t, msg.UserIDs)
	assert.Empty(t, msg.UserIDs)
}

func TestBroadcaster_PublishesPresence(t *testing.T) {
	pub := &stubPublisher{err: errors.New("nats down")}
	b := NewBroadcaster(&fakeAudience{}, pub, nil)

	b.BroadcastPresence([]string{"a", "b"})
	require.Len(t, pub.got, 1)
	assert.Equal(t, []string{"a", "b"}, pub.got[0])
}

func TestRegistryWithBroadcaster(t *testing.T) {
	aud := &fakeAudience{}
	reg := NewRegistry(NewBroadcaster(aud, nil, nil), nil)

	a := newFakeConn("ca")
	aud.add(a)
	reg.Register("userA", a)

	b := newFakeConn("cb")
	aud.add(b)
	reg.Register("userB", b)

	evA := a.events()
	require.Len(t, evA, 2)
	assert.Equal(t, []string{"userA"}, evA[0].payload.(protocol.OnlineUsersMsg).UserIDs)
	assert.Equal(t, []string{"userA", "userB"}, evA[1].payload.(protocol.OnlineUsersMsg).UserIDs)

	evB := b.events()
	require.Len(t, evB, 1)
	assert.Equal(t, []string{"userA", "userB"}, evB[0].payload.(protocol.OnlineUsersMsg).UserIDs)
}

func TestSlowPeerDoesNotDelayRouting(t *testing.T) {
	aud := &fakeAudience{}
	reg := NewRegistry(NewBroadcaster(aud, nil, nil), nil)
	router := NewRouter(reg, nil)

	bob := newFakeConn("cb")
	reg.Register("bob", bob)

	slow := newSlowConn("cs")
	aud.add(slow)
	defer close(slow.release)

	registered := make(chan struct{})
	go func() {
		reg.Register("carol", newFakeConn("cc"))
		close(registered)
	}()

	select {
	case <-slow.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached the slow peer")
	}

	start := time.Now()
	conn, ok := reg.Lookup("carol")
	require.True(t, ok)
	assert.Equal(t, "cc", conn.ID())
	assert.True(t, router.Route(chat.Message{ID: "m1", SenderID: "carol", ReceiverID: "bob", Text: "hi"}))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	select {
	case <-registered:
		t.Fatal("Register returned before its notification finished")
	default:
	}
}

func TestRegistry_NotificationsStayOrderedBehindSlowPeer(t *testing.T) {
	n := &recordingNotifier{}
	slow := newSlowConn("cs")
	aud := &fakeAudience{}
	aud.add(slow)
	b := NewBroadcaster(aud, nil, nil)
	reg := NewRegistry(PresenceFunc(func(online []string) {
		n.PresenceChanged(online)
		b.BroadcastPresence(online)
	}), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Register("a", newFakeConn("ca"))
	}()
	<-slow.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Register("b", newFakeConn("cb"))
	}()
	require.Eventually(t, func() bool { return reg.Count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, n.snapshot(), 1)

	close(slow.release)
	wg.Wait()

	calls := n.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"a"}, calls[0])
	assert.Equal(t, []string{"a", "b"}, calls[1])
}
