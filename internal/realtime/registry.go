package realtime

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps a user ID to the single connection most recently registered
// for that user. A newer connection replaces the mapping without closing the
// older transport.
//
// Each mutation takes a ticket under the map lock; notifications then run
// outside it, strictly in ticket order, each carrying the online set as of
// its own mutation. Lookup never waits for a notification in progress.
// Register and Unregister return once their own notification has run. The
// notifier may call Lookup but must not mutate the registry.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]Conn
	issued   uint64 // tickets handed out, guarded by mu
	notifier PresenceNotifier
	log      *zap.Logger

	turnMu sync.Mutex
	turn   *sync.Cond
	served uint64 // tickets whose notification has run, guarded by turnMu
}

// NewRegistry creates an empty registry. notifier may be nil.
func NewRegistry(notifier PresenceNotifier, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		conns:    make(map[string]Conn),
		notifier: notifier,
		log:      logger,
	}
	r.turn = sync.NewCond(&r.turnMu)
	return r
}

// Register records conn as the live connection for userID, replacing any
// previous mapping, and notifies presence.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	if prev, ok := r.conns[userID]; ok && prev.ID() != conn.ID() {
		r.log.Debug("[registry] replacing connection",
			zap.String("user", userID),
			zap.String("old_conn", prev.ID()),
			zap.String("new_conn", conn.ID()))
	}
	r.conns[userID] = conn
	ticket, online := r.ticketLocked()
	r.mu.Unlock()

	r.notify(ticket, online)
}

// Unregister removes the mapping for userID only when conn is the connection
// currently registered for that user. It reports whether the registry
// changed; a stale disconnect is a no-op and triggers no notification.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		r.mu.Unlock()
		r.log.Debug("[registry] ignoring stale unregister",
			zap.String("user", userID),
			zap.String("conn", conn.ID()))
		return false
	}
	delete(r.conns, userID)
	ticket, online := r.ticketLocked()
	r.mu.Unlock()

	r.notify(ticket, online)
	return true
}

// Lookup returns the connection registered for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Online returns the sorted set of registered user IDs.
func (r *Registry) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked()
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) onlineLocked() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) ticketLocked() (uint64, []string) {
	ticket := r.issued
	r.issued++
	return ticket, r.onlineLocked()
}

// notify waits for every earlier ticket to be served, then delivers online.
func (r *Registry) notify(ticket uint64, online []string) {
	r.turnMu.Lock()
	for r.served != ticket {
		r.turn.Wait()
	}
	r.turnMu.Unlock()

	if r.notifier != nil {
		r.notifier.PresenceChanged(online)
	}

	r.turnMu.Lock()
	r.served++
	r.turn.Broadcast()
	r.turnMu.Unlock()
}
