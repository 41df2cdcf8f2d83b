// Package peer implements the client side of the synchronize RPC: one
// outbound TCP channel per remote locator, its inbound chunk decoding, and
// its heartbeat watchdog (spec.md §4.4).
//
// The read loop here plays the same role as mini-rpc's
// transport.ClientTransport.recvLoop: one dedicated goroutine per
// connection continuously decoding frames and dispatching them, because TCP
// reads must be sequential. What's dropped from that transport is the
// sequence-number multiplexing (pending map of per-call response channels):
// a synchronize channel carries exactly one logical subscription per
// connection, so there's nothing to correlate — every chunk that arrives is
// simply "the next catalog snapshot for this peer".
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"locatord/internal/catalog"
	"locatord/internal/gateway"
	"locatord/internal/router"
	"locatord/internal/wire"
)

// ErrUnreachable mirrors spec.md's Unreachable: every resolved endpoint for
// a newly-sighted peer refused the connection.
var ErrUnreachable = errors.New("peer: unreachable")

const dialTimeout = 5 * time.Second

// Session is one peer's synchronize channel, from Connecting through
// Subscribed/Active to Terminating.
type Session struct {
	key     catalog.PeerKey
	conn    net.Conn
	router  *router.Router
	gateway gateway.Gateway
	log     *zap.SugaredLogger

	heartbeatTTL time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	terminate sync.Once
	onDone    func(uuid string) // posted to the manager's deferred queue
}

// Connect resolves key.Hostname, tries each resulting endpoint in order
// (stopping at the first connectable one), subscribes, and starts the
// session's recv loop and heartbeat watchdog. onDone is invoked exactly
// once, from whatever goroutine first detects termination, and must not
// block.
func Connect(ctx context.Context, key catalog.PeerKey, r *router.Router, gw gateway.Gateway, heartbeatTTL time.Duration, log *zap.SugaredLogger, onDone func(uuid string)) (*Session, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, key.Hostname)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrUnreachable, key.Hostname, err)
	}

	var conn net.Conn
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, strconv.Itoa(int(key.LocatorPort)))
		c, dialErr := net.DialTimeout("tcp", target, dialTimeout)
		if dialErr != nil {
			log.Debugw("endpoint unreachable, trying next", "peer", key.UUID, "addr", target, "err", dialErr)
			continue
		}
		conn = c
		break
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, key.Hostname)
	}

	if err := wire.Encode(conn, wire.Header{MsgType: wire.MsgTypeSubscribe}, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrUnreachable, err)
	}

	s := &Session{
		key:          key,
		conn:         conn,
		router:       r,
		gateway:      gw,
		log:          log.With("peer", key.UUID),
		heartbeatTTL: heartbeatTTL,
		onDone:       onDone,
	}
	s.timer = time.AfterFunc(heartbeatTTL, s.onHeartbeatExpired)

	go s.recvLoop()

	return s, nil
}

// ResetHeartbeat is called by the announce listener on every multicast
// sighting of this peer's key, per spec.md §4.4: liveness is tracked via
// announces, not via traffic on the sync channel itself.
func (s *Session) ResetHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Reset(s.heartbeatTTL)
	}
}

func (s *Session) onHeartbeatExpired() {
	s.log.Warnw("peer heartbeat timed out")
	s.shutdown()
}

func (s *Session) recvLoop() {
	for {
		header, body, err := wire.Decode(s.conn)
		if err != nil {
			s.log.Debugw("synchronize channel closed", "err", err)
			s.shutdown()
			return
		}

		switch header.MsgType {
		case wire.MsgTypeChunk:
			dump, err := wire.DecodeCatalog(body)
			if err != nil {
				s.log.Errorw("malformed catalog chunk, dropping session", "err", err)
				s.shutdown()
				return
			}
			s.applyChunk(dump)

		case wire.MsgTypeChoke, wire.MsgTypeError:
			s.log.Infow("peer shut down", "msgType", header.MsgType)
			s.shutdown()
			return

		default:
			s.log.Errorw("dropped unknown synchronization message type", "msgType", header.MsgType)
		}
	}
}

// applyChunk folds one catalog snapshot into the router and notifies the
// gateway. All notifications from this chunk are delivered before the next
// chunk is processed, since recvLoop is single-threaded per session —
// removed is always walked before added, matching the open question
// resolution in spec.md §9 ("iterate removed then added").
func (s *Session) applyChunk(dump map[string]catalog.ServiceInfo) {
	added, removed := s.router.UpdateRemote(s.key.UUID, dump)
	for _, ni := range removed {
		s.gateway.Cleanup(s.key.UUID, ni.Name)
	}
	for _, ni := range added {
		s.gateway.Consume(s.key.UUID, ni.Name, ni.Info)
	}
}

// shutdown tears the session down exactly once: stop the heartbeat timer,
// remove the peer from the router, notify the gateway of every dropped
// name, close the connection, and hand erasure from the peer table off to
// onDone.
//
// onDone is always invoked via the manager's deferred queue rather than
// inline, even though that's only strictly required when shutdown is
// reached from within recvLoop's own inbound dispatch (an inbound
// choke/error message or a decode error) — erasing the session object
// while its own goroutine is still unwinding the call that detected the
// problem is unsafe, per spec.md §9's peer-table race note. Posting
// unconditionally keeps shutdown to one code path instead of two.
func (s *Session) shutdown() {
	s.terminate.Do(func() {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()

		dropped := s.router.RemoveRemote(s.key.UUID)
		names := make([]string, 0, len(dropped))
		for name := range dropped {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s.gateway.Cleanup(s.key.UUID, name)
		}

		s.conn.Close()
		s.onDone(s.key.UUID)
	})
}

// Key returns the peer key this session was opened for.
func (s *Session) Key() catalog.PeerKey {
	return s.key
}
