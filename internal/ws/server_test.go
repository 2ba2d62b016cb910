package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatly/chat-app/internal/protocol"
)

type recordingSessions struct {
	mu      sync.Mutex
	created map[string]string
	deleted []string
}

func (r *recordingSessions) Create(_ context.Context, connID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.created == nil {
		r.created = make(map[string]string)
	}
	r.created[connID] = userID
	return nil
}

func (r *recordingSessions) Refresh(context.Context, string) error { return nil }

func (r *recordingSessions) Delete(_ context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, connID)
	return nil
}

type testServer struct {
	*Server
	url          string
	connected    chan *Connection
	disconnected chan *Connection
}

func startTestServer(t *testing.T, sessions SessionStore, configure func(*Server)) *testServer {
	t.Helper()

	cfg := DefaultServerConfig()
	cfg.WorkerPoolSize = 8
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second

	srv, err := NewServer(cfg, sessions, NewMessageDispatcher(nil).Dispatch, nil)
	require.NoError(t, err)

	ts := &testServer{
		Server:       srv,
		connected:    make(chan *Connection, 8),
		disconnected: make(chan *Connection, 8),
	}
	srv.SetOnConnect(func(c *Connection) { ts.connected <- c })
	srv.SetOnDisconnect(func(c *Connection) { ts.disconnected <- c })
	if configure != nil {
		configure(srv)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ts.url = "ws://" + ln.Addr().String() + "/ws"

	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return ts
}

func dial(t *testing.T, url string) net.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if br != nil {
		// Frames written right after the handshake may already be buffered.
		return &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}
	}
	return conn
}

type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func readServer(t *testing.T, conn net.Conn) (string, interface{}) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	typ, msg, err := protocol.ParseServerMessage(data)
	require.NoError(t, err)
	return typ, msg
}

func waitConn(t *testing.T, ch <-chan *Connection) *Connection {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection callback")
		return nil
	}
}

func TestServer_HandshakeRegistersUser(t *testing.T) {
	sessions := &recordingSessions{}
	ts := startTestServer(t, sessions, nil)

	conn := dial(t, ts.url+"?userId=alice")

	typ, msg := readServer(t, conn)
	require.Equal(t, protocol.TypeSessionCreated, typ)
	created := msg.(protocol.SessionCreatedMsg)
	assert.Equal(t, "alice", created.UserID)
	assert.NotEmpty(t, created.SessionID)

	c := waitConn(t, ts.connected)
	assert.Equal(t, "alice", c.UserID)
	assert.Equal(t, created.SessionID, c.ID())
	assert.Equal(t, 1, ts.Connections().Count())

	sessions.mu.Lock()
	assert.Equal(t, "alice", sessions.created[c.ID()])
	sessions.mu.Unlock()
}

func TestServer_RejectsMissingUser(t *testing.T) {
	ts := startTestServer(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, _, err := ws.Dial(ctx, ts.url)
	require.Error(t, err)

	var status ws.StatusError
	if errors.As(err, &status) {
		assert.Equal(t, http.StatusUnauthorized, int(status))
	}
	assert.Equal(t, 0, ts.Connections().Count())
}

func TestServer_AuthenticatorMismatch(t *testing.T) {
	ts := startTestServer(t, nil, func(s *Server) {
		s.SetAuthenticator(func(r *http.Request) (string, error) {
			if r.URL.Query().Get("token") == "good" {
				return "alice", nil
			}
			return "", errors.New("bad token")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, _, err := ws.Dial(ctx, ts.url+"?token=bad")
	assert.Error(t, err)

	_, _, _, err = ws.Dial(ctx, ts.url+"?token=good&userId=mallory")
	assert.Error(t, err)

	conn := dial(t, ts.url+"?token=good&userId=alice")
	typ, _ := readServer(t, conn)
	assert.Equal(t, protocol.TypeSessionCreated, typ)
}

func TestServer_AdmissionRejects(t *testing.T) {
	ts := startTestServer(t, nil, func(s *Server) {
		s.SetAdmission(func(*http.Request) bool { return false })
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, _, err := ws.Dial(ctx, ts.url+"?userId=alice")
	assert.Error(t, err)
}

func TestServer_PingPong(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	conn := dial(t, ts.url+"?userId=alice")
	readServer(t, conn) // session_created

	ping, err := protocol.NewClientMessage(protocol.TypePing)
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientText(conn, ping))

	typ, _ := readServer(t, conn)
	assert.Equal(t, protocol.TypePong, typ)
}

func TestServer_UnknownFrameGetsError(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	conn := dial(t, ts.url+"?userId=alice")
	readServer(t, conn)

	require.NoError(t, wsutil.WriteClientText(conn, []byte(`{"type":"send_message"}`)))
	typ, msg := readServer(t, conn)
	require.Equal(t, protocol.TypeError, typ)
	assert.Equal(t, "unsupported_type", msg.(protocol.ErrorMsg).Code)
}

func TestServer_CloseFrameRemovesConnection(t *testing.T) {
	sessions := &recordingSessions{}
	ts := startTestServer(t, sessions, nil)
	conn := dial(t, ts.url+"?userId=alice")
	readServer(t, conn)
	c := waitConn(t, ts.connected)

	require.NoError(t, ws.WriteFrame(conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))))

	gone := waitConn(t, ts.disconnected)
	assert.Equal(t, c.ID(), gone.ID())
	assert.False(t, gone.IsOpen())
	assert.Equal(t, 0, ts.Connections().Count())

	sessions.mu.Lock()
	assert.Equal(t, []string{c.ID()}, sessions.deleted)
	sessions.mu.Unlock()
}

func TestServer_AbruptDisconnectRemovesConnection(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	conn := dial(t, ts.url+"?userId=alice")
	readServer(t, conn)
	waitConn(t, ts.connected)

	conn.Close()

	gone := waitConn(t, ts.disconnected)
	assert.Equal(t, "alice", gone.UserID)
}

func TestServer_Health(t *testing.T) {
	ts := startTestServer(t, nil, func(s *Server) {
		s.SetOnlineCounter(func() int { return 3 })
	})
	httpURL := "http" + ts.url[len("ws"):len(ts.url)-len("/ws")] + "/health"

	resp, err := http.Get(httpURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"online_users":3`)
}

func TestSweep_EvictsSilentConnections(t *testing.T) {
	srv, err := NewServer(DefaultServerConfig(), nil, nil, nil)
	require.NoError(t, err)

	var removed []string
	srv.SetOnDisconnect(func(c *Connection) { removed = append(removed, c.ID()) })

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	stale := newConnection("stale", "bob", serverSide, 100*time.Millisecond, 4)
	stale.lastActive.Store(time.Now().Add(-time.Hour).UnixNano())
	srv.conns.Add(stale)

	cfg := HeartbeatConfig{Interval: time.Second, Timeout: time.Second}
	sweep(srv, cfg, time.Now())

	assert.Equal(t, []string{"stale"}, removed)
	assert.Equal(t, 0, srv.Connections().Count())
	assert.False(t, stale.IsOpen())
}

func TestSweep_PingsLiveConnections(t *testing.T) {
	srv, err := NewServer(DefaultServerConfig(), nil, nil, nil)
	require.NoError(t, err)

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	live := newConnection("live", "bob", serverSide, time.Second, 4)
	srv.conns.Add(live)

	frames := make(chan ws.OpCode, 1)
	go func() {
		h, err := ws.ReadHeader(clientSide)
		if err == nil {
			frames <- h.OpCode
		}
	}()

	sweep(srv, HeartbeatConfig{Interval: time.Minute, Timeout: time.Minute}, time.Now())

	select {
	case op := <-frames:
		assert.Equal(t, ws.OpPing, op)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a ping frame")
	}
	assert.Equal(t, 1, srv.Connections().Count())
}

func TestSend_FullQueueEvictsConnection(t *testing.T) {
	srv, err := NewServer(DefaultServerConfig(), nil, nil, nil)
	require.NoError(t, err)

	removed := make(chan string, 1)
	srv.SetOnDisconnect(func(c *Connection) { removed <- c.ID() })

	// Nobody reads clientSide, so the writer stalls on its first frame.
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	c := newConnection("stalled", "bob", serverSide, time.Minute, 2)
	c.startWriter(srv.evict)
	srv.conns.Add(c)

	start := time.Now()
	var sendErr error
	for i := 0; i < 10 && sendErr == nil; i++ {
		sendErr = c.Send(protocol.TypeNewMessage, map[string]int{"n": i})
	}
	assert.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, sendErr, ErrSlowConsumer)

	select {
	case id := <-removed:
		assert.Equal(t, "stalled", id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the stalled connection to be evicted")
	}
	assert.Equal(t, 0, srv.Connections().Count())
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send(protocol.TypeNewMessage, nil), net.ErrClosed)
}

func TestSend_WriteErrorEvictsConnection(t *testing.T) {
	srv, err := NewServer(DefaultServerConfig(), nil, nil, nil)
	require.NoError(t, err)

	removed := make(chan string, 1)
	srv.SetOnDisconnect(func(c *Connection) { removed <- c.ID() })

	serverSide, clientSide := net.Pipe()
	c := newConnection("gone", "bob", serverSide, time.Second, 4)
	c.startWriter(srv.evict)
	srv.conns.Add(c)
	require.NoError(t, clientSide.Close())

	require.NoError(t, c.Send(protocol.TypeNewMessage, map[string]string{"text": "hi"}))

	select {
	case id := <-removed:
		assert.Equal(t, "gone", id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the connection to be evicted after a failed write")
	}
}

func TestSend_DeliversQueuedFramesInOrder(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	c := newConnection("ordered", "bob", serverSide, time.Second, 8)
	c.startWriter(func(*Connection, error) {})
	defer c.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Send(protocol.TypeNewMessage, map[string]int{"n": i}))
	}
	for _, want := range []string{`"n":0`, `"n":1`, `"n":2`} {
		data, err := wsutil.ReadServerText(clientSide)
		require.NoError(t, err)
		assert.Contains(t, string(data), want)
	}
}
