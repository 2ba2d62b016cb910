package realtime

import (
	"errors"
	"sync"
)

type sent struct {
	event   string
	payload any
}

type fakeConn struct {
	id      string
	mu      sync.Mutex
	closed  bool
	failing bool
	sent    []sent
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, sent{event: event, payload: payload})
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) events() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sent, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeAudience struct {
	mu    sync.Mutex
	peers []Conn
}

func (a *fakeAudience) add(c Conn) {
	a.mu.Lock()
	a.peers = append(a.peers, c)
	a.mu.Unlock()
}

func (a *fakeAudience) Peers() []Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Conn, len(a.peers))
	copy(out, a.peers)
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][]string
}

func (n *recordingNotifier) PresenceChanged(online []string) {
	n.mu.Lock()
	n.calls = append(n.calls, online)
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() [][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]string, len(n.calls))
	copy(out, n.calls)
	return out
}

// slowConn blocks every Send until release is closed.
type slowConn struct {
	*fakeConn
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newSlowConn(id string) *slowConn {
	return &slowConn{
		fakeConn: newFakeConn(id),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (c *slowConn) Send(event string, payload any) error {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return c.fakeConn.Send(event, payload)
}
