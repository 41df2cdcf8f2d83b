// Package catalogsync implements the server side of the synchronize RPC.
//
// The accept loop and per-connection goroutine shape are adapted from
// mini-rpc's server.Server: Listen, one goroutine per accepted connection,
// a shutdown flag that turns an expected Accept error (from closing the
// listener) into a clean return instead of a logged failure, and a
// WaitGroup so Shutdown can wait for in-flight pushes to drain. What
// differs from mini-rpc's server is the absence of request/response
// dispatch: a subscriber never sends anything after its initial subscribe
// frame, so each connection's only job is to receive pushes until it
// disconnects or the synchronizer chokes it.
package catalogsync

import (
	"bytes"
	"net"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"locatord/internal/catalog"
	"locatord/internal/wire"
)

// Source supplies the catalog to push. In production this is the
// orchestrator's LocalServiceTable.
type Source interface {
	Snapshot() map[string]catalog.ServiceInfo
}

type upstream struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// Synchronizer serves the synchronize RPC: it pushes the local catalog to
// every subscribed peer, as a full snapshot on subscribe and again on every
// Update call.
type Synchronizer struct {
	source Source
	log    *zap.SugaredLogger

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool

	mu        sync.Mutex
	upstreams map[*upstream]struct{}

	// bufMu/buf reuse the same serialization buffer across pushes, the
	// same trick the original locator's synchronize_slot_t uses (m_buffer) to avoid
	// reallocating on every update — chunks are full snapshots, not
	// deltas, so this buffer's size tracks the catalog size, not history.
	bufMu sync.Mutex
	buf   bytes.Buffer
}

// New builds a Synchronizer reading catalogs from source.
func New(source Source, log *zap.SugaredLogger) *Synchronizer {
	return &Synchronizer{
		source:    source,
		log:       log,
		upstreams: make(map[*upstream]struct{}),
	}
}

// Serve listens on address and accepts subscriber connections until
// Shutdown is called.
func (s *Synchronizer) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Synchronizer) handleConn(conn net.Conn) {
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	header, _, err := wire.Decode(conn)
	if err != nil || header.MsgType != wire.MsgTypeSubscribe {
		s.log.Debugw("rejecting non-subscribe opening frame", "remote", conn.RemoteAddr(), "err", err)
		return
	}

	up := &upstream{conn: conn}
	s.mu.Lock()
	s.upstreams[up] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.upstreams, up)
		s.mu.Unlock()
	}()

	if !s.pushTo(up) {
		return
	}

	// The subscriber never sends another frame; block here so the
	// connection's read side notices disconnects (RST, FIN, timeout) and
	// the upstream gets dropped instead of lingering as a zombie.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

// Update re-serializes the current catalog and pushes it to every live
// upstream. Failed writes drop that upstream silently, per spec.md §4.3.
func (s *Synchronizer) Update() {
	s.mu.Lock()
	targets := make([]*upstream, 0, len(s.upstreams))
	for up := range s.upstreams {
		targets = append(targets, up)
	}
	s.mu.Unlock()

	for _, up := range targets {
		if !s.pushTo(up) {
			s.mu.Lock()
			delete(s.upstreams, up)
			s.mu.Unlock()
			up.conn.Close()
		}
	}
}

// pushTo serializes the current catalog and writes one chunk frame to up.
// Returns false if the write failed.
func (s *Synchronizer) pushTo(up *upstream) bool {
	s.bufMu.Lock()
	s.buf.Reset()
	err := msgpack.NewEncoder(&s.buf).Encode(s.source.Snapshot())
	body := append([]byte(nil), s.buf.Bytes()...)
	s.bufMu.Unlock()

	if err != nil {
		s.log.Errorw("failed to encode catalog snapshot", "err", err)
		return false
	}

	up.writeMu.Lock()
	defer up.writeMu.Unlock()
	if err := wire.Encode(up.conn, wire.Header{MsgType: wire.MsgTypeChunk}, body); err != nil {
		s.log.Debugw("dropping subscriber after write failure", "remote", up.conn.RemoteAddr(), "err", err)
		return false
	}
	return true
}

// SnapshotSize reports the byte size of the last chunk pushed, for tests
// and lightweight diagnostics — not part of the client-facing RPC surface.
func (s *Synchronizer) SnapshotSize() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return s.buf.Len()
}

// Shutdown sends a terminal choke to every upstream, drops them, and stops
// accepting new connections.
func (s *Synchronizer) Shutdown() {
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	targets := make([]*upstream, 0, len(s.upstreams))
	for up := range s.upstreams {
		targets = append(targets, up)
	}
	s.upstreams = make(map[*upstream]struct{})
	s.mu.Unlock()

	for _, up := range targets {
		up.writeMu.Lock()
		wire.Encode(up.conn, wire.Header{MsgType: wire.MsgTypeChoke}, nil)
		up.writeMu.Unlock()
		up.conn.Close()
	}

	s.wg.Wait()
}
