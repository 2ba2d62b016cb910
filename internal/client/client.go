// Package client is the chat client: it logs in over REST, keeps exactly one
// socket open per session, tracks the online set and maintains the view of
// the currently selected conversation.
//
// The conversation handler is attached only after the selected counterpart's
// history has been fetched, and it is detached before any new selection, so
// pushes for a previous counterpart never leak into the current view.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/chatly/chat-app/internal/chat"
	"github.com/chatly/chat-app/internal/conversation"
	"github.com/chatly/chat-app/internal/protocol"
	"github.com/chatly/chat-app/internal/users"
)

// Client is safe for concurrent use. Callbacks run on the client's
// goroutines and must not block for long.
type Client struct {
	cfg  Config
	rest *restClient
	log  *zap.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	token     string
	self      users.User
	conn      net.Conn
	stop      chan struct{}
	state     ConnectionState
	sessionID string
	online    []string
	view      conversation.State
	attached  bool
	gen       uint64

	onMessages func([]chat.Message)
	onPresence func([]string)
	onError    func(error)
	onState    func(StateEvent)
}

// New creates a client for cfg.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		rest: newRESTClient(cfg.BaseURL, cfg.RequestTimeout),
		log:  logger,
	}
}

// OnMessages registers the callback receiving the full conversation view
// after each change.
func (c *Client) OnMessages(fn func([]chat.Message)) { c.mu.Lock(); c.onMessages = fn; c.mu.Unlock() }

// OnPresence registers the callback receiving the online set.
func (c *Client) OnPresence(fn func([]string)) { c.mu.Lock(); c.onPresence = fn; c.mu.Unlock() }

// OnError registers the callback for asynchronous errors.
func (c *Client) OnError(fn func(error)) { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }

// OnStateChange registers the callback for socket state transitions.
func (c *Client) OnStateChange(fn func(StateEvent)) { c.mu.Lock(); c.onState = fn; c.mu.Unlock() }

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

// Signup registers an account and keeps its session token.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (users.User, error) {
	resp, err := c.rest.signup(ctx, req)
	if err != nil {
		return users.User{}, err
	}
	c.setSession(resp.User, resp.Token)
	return resp.User, nil
}

// Login authenticates and keeps the session token.
func (c *Client) Login(ctx context.Context, username, password string) (users.User, error) {
	resp, err := c.rest.login(ctx, username, password)
	if err != nil {
		return users.User{}, err
	}
	c.setSession(resp.User, resp.Token)
	return resp.User, nil
}

// Resume restores a session from a previously issued token.
func (c *Client) Resume(ctx context.Context, token string) (users.User, error) {
	u, err := c.rest.check(ctx, token)
	if err != nil {
		return users.User{}, err
	}
	c.setSession(u, token)
	return u, nil
}

func (c *Client) setSession(u users.User, token string) {
	c.mu.Lock()
	c.self = u
	c.token = token
	c.view = conversation.New(u.ID, "")
	c.mu.Unlock()
}

// Self returns the logged-in user.
func (c *Client) Self() users.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Token returns the session token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// UpdateProfile replaces the profile picture with the given data URI.
func (c *Client) UpdateProfile(ctx context.Context, profilePic string) (users.User, error) {
	token, err := c.requireToken()
	if err != nil {
		return users.User{}, err
	}
	u, err := c.rest.updateProfile(ctx, token, profilePic)
	if err != nil {
		return users.User{}, c.sessionErr(token, err)
	}
	c.mu.Lock()
	c.self = u
	c.mu.Unlock()
	return u, nil
}

// Users lists every other user.
func (c *Client) Users(ctx context.Context) ([]users.User, error) {
	token, err := c.requireToken()
	if err != nil {
		return nil, err
	}
	list, err := c.rest.users(ctx, token)
	return list, c.sessionErr(token, err)
}

// Logout closes the socket, ends the server session and forgets the token.
func (c *Client) Logout(ctx context.Context) error {
	token := c.Token()
	closeErr := c.Close()

	var err error
	if token != "" {
		err = c.rest.logout(ctx, token)
	}

	c.mu.Lock()
	c.token = ""
	c.self = users.User{}
	c.view = conversation.State{}
	c.mu.Unlock()

	if closeErr != nil {
		return closeErr
	}
	return err
}

// authLost reports whether err means the server no longer accepts the
// session token.
func authLost(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized
	}
	var status ws.StatusError
	if errors.As(err, &status) {
		return int(status) == http.StatusUnauthorized || int(status) == http.StatusForbidden
	}
	return false
}

// sessionErr passes err through unless it shows token was rejected, in which
// case the session is dropped and the error wraps ErrNotAuthenticated.
func (c *Client) sessionErr(token string, err error) error {
	if err == nil || !authLost(err) {
		return err
	}
	c.dropSession(token)
	return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
}

// dropSession closes the socket and forgets token, unless a newer login has
// already replaced it.
func (c *Client) dropSession(token string) {
	c.mu.Lock()
	if c.token != token {
		c.mu.Unlock()
		return
	}
	c.token = ""
	c.mu.Unlock()

	c.log.Warn("[client] session rejected by server")
	_ = c.Close()
}

func (c *Client) requireToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", ErrNotAuthenticated
	}
	return c.token, nil
}

// ---------------------------------------------------------------------------
// Socket lifecycle
// ---------------------------------------------------------------------------

// Connect opens the session's socket. It fails with ErrAlreadyConnected if
// a socket is already open or being re-established.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.token == "" {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	ev := c.setStateLocked(StateConnecting, nil)
	stop := make(chan struct{})
	c.stop = stop
	token, userID := c.token, c.self.ID
	c.mu.Unlock()
	c.emitState(ev)

	conn, err := c.dial(ctx, token, userID)

	c.mu.Lock()
	if c.stop != stop {
		// Closed while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		c.stop = nil
		ev = c.setStateLocked(StateDisconnected, err)
		c.mu.Unlock()
		c.emitState(ev)
		return c.sessionErr(token, err)
	}
	c.conn = conn
	ev = c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()
	c.emitState(ev)

	go c.readLoop(conn, stop)
	return nil
}

// Close closes the socket, detaches the conversation handler and clears the
// online set. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.online = nil
	c.sessionID = ""
	c.attached = false
	c.gen++
	c.view = conversation.New(c.self.ID, "")
	var ev *StateEvent
	if c.state != StateDisconnected && c.state != StateClosed {
		ev = c.setStateLocked(StateClosed, nil)
	}
	onPresence := c.onPresence
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = ws.WriteFrame(conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "client close"))))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.emitState(ev)
	if ev != nil && onPresence != nil {
		onPresence(nil)
	}
	return err
}

// State returns the current socket state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the server-side connection, once announced.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Online returns the last online set pushed by the server.
func (c *Client) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.online)
}

// IsOnline reports whether userID is in the online set.
func (c *Client) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.online, userID)
}

// Ping sends an application-level keepalive.
func (c *Client) Ping() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.NewClientMessage(protocol.TypePing)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(conn, data)
}

func (c *Client) dial(ctx context.Context, token, userID string) (net.Conn, error) {
	target, err := c.socketURL(token, userID)
	if err != nil {
		return nil, err
	}
	dialer := ws.Dialer{Timeout: c.cfg.HandshakeTimeout}
	conn, br, _, err := dialer.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	if br != nil {
		return &bufferedConn{Conn: conn, r: io.MultiReader(br, conn)}, nil
	}
	return conn, nil
}

func (c *Client) socketURL(token, userID string) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("client: invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("token", token)
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// bufferedConn drains frames the dialer read past the handshake response.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// readLoop answers control frames under writeMu so pongs never interleave
// with Ping or Close writes.
func (c *Client) readLoop(conn net.Conn, stop chan struct{}) {
	control := func(h ws.Header, r io.Reader) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return wsutil.ControlHandler{Src: r, Dst: conn, State: ws.StateClientSide}.Handle(h)
	}
	rd := &wsutil.Reader{
		Source:         conn,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		data, err := nextText(rd, control)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			c.log.Warn("[client] connection lost", zap.Error(err))
			c.handleLost(conn, stop, err)
			return
		}
		c.handleFrame(conn, data)
	}
}

// nextText returns the next text message, handing control frames to control
// and skipping binary ones.
func nextText(rd *wsutil.Reader, control wsutil.FrameHandlerFunc) ([]byte, error) {
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

func (c *Client) handleFrame(conn net.Conn, data []byte) {
	typ, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		c.log.Warn("[client] bad frame", zap.String("type", typ), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case protocol.SessionCreatedMsg:
		c.mu.Lock()
		if c.conn == conn {
			c.sessionID = m.SessionID
		}
		c.mu.Unlock()

	case protocol.OnlineUsersMsg:
		online := slices.Clone(m.UserIDs)
		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}
		c.online = online
		fn := c.onPresence
		c.mu.Unlock()
		if fn != nil {
			fn(slices.Clone(online))
		}

	case protocol.NewMessageMsg:
		c.deliver(conn, m.Message)

	case protocol.ErrorMsg:
		c.reportError(&ServerError{Code: m.Code, Message: m.Message})
	}
}

// deliver merges a pushed message into the view if the handler is attached
// and the message belongs to the selected pair.
func (c *Client) deliver(conn net.Conn, msg chat.Message) {
	c.mu.Lock()
	if c.conn != conn || !c.attached {
		c.mu.Unlock()
		return
	}
	next, changed := conversation.Merge(c.view, msg)
	if !changed {
		c.mu.Unlock()
		return
	}
	c.view = next
	snapshot := slices.Clone(next.Messages)
	fn := c.onMessages
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (c *Client) handleLost(conn net.Conn, stop chan struct{}, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.sessionID = ""
	ev := c.setStateLocked(StateReconnecting, cause)
	c.mu.Unlock()
	c.emitState(ev)

	c.reconnect(stop)
}

// reconnect retries the handshake with exponential backoff. Once connected it
// refetches the active conversation so pushes missed while offline are merged.
func (c *Client) reconnect(stop chan struct{}) {
	delay := c.cfg.ReconnectInterval
	for attempt := 1; c.cfg.MaxReconnectTries <= 0 || attempt <= c.cfg.MaxReconnectTries; attempt++ {
		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, c.cfg.MaxReconnectDelay)

		c.mu.Lock()
		token, userID := c.token, c.self.ID
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx, token, userID)
		cancel()
		if authLost(err) && c.Token() == token {
			c.reportError(c.sessionErr(token, err))
			return
		}
		if err != nil {
			c.log.Debug("[client] reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		c.mu.Lock()
		select {
		case <-stop:
			c.mu.Unlock()
			conn.Close()
			return
		default:
		}
		c.conn = conn
		ev := c.setStateLocked(StateConnected, nil)
		gen := c.gen
		counterpart := c.view.Counterpart
		c.mu.Unlock()
		c.emitState(ev)

		c.log.Info("[client] reconnected", zap.Int("attempt", attempt))
		go c.readLoop(conn, stop)
		c.catchUp(gen, counterpart)
		return
	}

	c.mu.Lock()
	select {
	case <-stop:
		c.mu.Unlock()
		return
	default:
	}
	c.stop = nil
	c.online = nil
	ev := c.setStateLocked(StateError, ErrReconnectFailed)
	onPresence := c.onPresence
	c.mu.Unlock()

	c.emitState(ev)
	if onPresence != nil {
		onPresence(nil)
	}
	c.reportError(ErrReconnectFailed)
}

func (c *Client) catchUp(gen uint64, counterpart string) {
	if counterpart == "" {
		return
	}
	token := c.Token()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	history, err := c.rest.history(ctx, token, counterpart)
	if err != nil {
		c.reportError(fmt.Errorf("client: catch-up history: %w", c.sessionErr(token, err)))
		return
	}

	c.mu.Lock()
	if c.gen != gen || !c.attached {
		c.mu.Unlock()
		return
	}
	c.view = conversation.Load(c.view, history)
	snapshot := slices.Clone(c.view.Messages)
	fn := c.onMessages
	c.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (c *Client) setStateLocked(next ConnectionState, err error) *StateEvent {
	if c.state == next {
		return nil
	}
	ev := &StateEvent{OldState: c.state, NewState: next, Error: err}
	c.state = next
	return ev
}

func (c *Client) emitState(ev *StateEvent) {
	if ev == nil {
		return
	}
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(*ev)
	}
}

func (c *Client) reportError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	} else {
		c.log.Warn("[client] error", zap.Error(err))
	}
}
