// Package discovery implements the UDP multicast side of peer discovery,
// spec.md §4.6: periodically advertising this node's (uuid, hostname,
// locator_port) triple, and listening for the same from everyone else on
// the segment.
//
// Neither direction uses the wire package's framed TCP protocol — a
// multicast datagram is a single self-contained MessagePack value, with no
// sticky-packet problem to solve and nothing to multiplex.
package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"locatord/internal/catalog"
	"locatord/internal/wire"
)

// AnnounceInterval is how often this node broadcasts its presence.
const AnnounceInterval = 5 * time.Second

// Announcer periodically broadcasts this node's peer key to the multicast
// group on a connected UDP socket.
type Announcer struct {
	conn *net.UDPConn
	key  catalog.PeerKey
	log  *zap.SugaredLogger
}

// NewAnnouncer dials group:port over UDP and disables multicast loopback,
// so a node never processes its own announces as a peer sighting — the
// self-UUID filter in Listener is a second, independent line of defense for
// the same invariant.
func NewAnnouncer(group string, port uint16, key catalog.PeerKey, log *zap.SugaredLogger) (*Announcer, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(group, strconv.Itoa(int(port))))
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}

	// TTL is left at the platform default (spec.md §6); only loopback is
	// touched, since a node must never treat its own announce as a peer.
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastLoopback(false); err != nil {
		log.Debugw("could not disable multicast loopback", "err", err)
	}

	return &Announcer{conn: conn, key: key, log: log}, nil
}

// Run broadcasts the peer key every AnnounceInterval until ctx is
// cancelled. Send failures are logged, never retried out of band — the
// next tick will simply try again.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(AnnounceInterval)
	defer ticker.Stop()

	a.send()
	for {
		select {
		case <-ticker.C:
			a.send()
		case <-ctx.Done():
			return
		}
	}
}

func (a *Announcer) send() {
	body, err := wire.EncodeAnnounce(a.key)
	if err != nil {
		a.log.Errorw("failed to encode announce", "err", err)
		return
	}
	if _, err := a.conn.Write(body); err != nil {
		a.log.Debugw("failed to send announce", "err", err)
	}
}

// Close releases the announcer's socket.
func (a *Announcer) Close() error {
	return a.conn.Close()
}
