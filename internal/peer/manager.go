package peer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"locatord/internal/catalog"
	"locatord/internal/gateway"
	"locatord/internal/router"
)

// Manager owns the peer table — the set of live Sessions, keyed by peer
// UUID — and serializes every insertion/removal behind one mutex, the same
// role locator_t::on_announce_event and the reactor's posted erase play in
// the original C++ (original_source/src/locator.cpp). Erasure is always
// routed through a single buffered channel acting as the deferred task
// queue: whatever goroutine decides a session is done never deletes it from
// the map itself, it posts a closure that a dedicated drain goroutine runs.
type Manager struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	connecting   map[string]struct{} // peer UUIDs with a dial in flight
	localUUID    string
	router       *router.Router
	gateway      gateway.Gateway
	heartbeatTTL time.Duration
	log          *zap.SugaredLogger

	heartbeat chan func()
	done      chan struct{}
}

// NewManager builds a Manager and starts its deferred-erase drain goroutine.
// Call Close to stop it.
func NewManager(localUUID string, r *router.Router, gw gateway.Gateway, heartbeatTTL time.Duration, log *zap.SugaredLogger) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		connecting:   make(map[string]struct{}),
		localUUID:    localUUID,
		router:       r,
		gateway:      gw,
		heartbeatTTL: heartbeatTTL,
		log:          log,
		heartbeat:    make(chan func(), 64),
		done:         make(chan struct{}),
	}
	go m.drain()
	return m
}

func (m *Manager) drain() {
	for {
		select {
		case f := <-m.heartbeat:
			f()
		case <-m.done:
			return
		}
	}
}

// OnAnnounce handles one multicast sighting: reset the existing session's
// heartbeat, or kick off an asynchronous connect attempt for an unknown
// peer. It never blocks, so the announce listener's read loop stays
// responsive even while a new peer's connect is still in flight.
func (m *Manager) OnAnnounce(ctx context.Context, key catalog.PeerKey) {
	if key.UUID == m.localUUID {
		return
	}

	m.mu.Lock()
	if sess, known := m.sessions[key.UUID]; known {
		m.mu.Unlock()
		sess.ResetHeartbeat()
		return
	}
	if _, inFlight := m.connecting[key.UUID]; inFlight {
		// A dial for this peer is already running; a second announce
		// before it resolves must not start a second session — two
		// sessions sharing one UUID would both mutate the router's
		// and gateway's state for that UUID, and whichever loses the
		// race would erase the winner's catalog on teardown. Reserving
		// the key here, before any dial starts, means there is never a
		// second session to lose.
		m.mu.Unlock()
		return
	}
	m.connecting[key.UUID] = struct{}{}
	m.mu.Unlock()

	go m.connect(ctx, key)
}

func (m *Manager) connect(ctx context.Context, key catalog.PeerKey) {
	sess, err := Connect(ctx, key, m.router, m.gateway, m.heartbeatTTL, m.log, m.postRemove)

	m.mu.Lock()
	delete(m.connecting, key.UUID)
	if err != nil {
		m.mu.Unlock()
		m.log.Debugw("peer unreachable, will retry on next announce", "peer", key.UUID, "err", err)
		return
	}
	m.sessions[key.UUID] = sess
	m.mu.Unlock()

	m.log.Infow("peer connected", "peer", key.UUID, "hostname", key.Hostname)
}

// postRemove is the Session callback that posts this peer's table erasure
// to the deferred queue.
func (m *Manager) postRemove(uuid string) {
	m.heartbeat <- func() {
		m.mu.Lock()
		delete(m.sessions, uuid)
		m.mu.Unlock()
		m.log.Infow("peer removed", "peer", uuid)
	}
}

// Snapshot returns the UUIDs of every currently tracked peer, for
// diagnostics.
func (m *Manager) Snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for uuid := range m.sessions {
		out = append(out, uuid)
	}
	return out
}

// Close terminates every tracked session and stops the drain goroutine.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
	close(m.done)
}
