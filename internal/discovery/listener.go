package discovery

import (
	"context"
	"net"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"locatord/internal/peer"
	"locatord/internal/wire"
)

const datagramBufferSize = 1024

// announceBurst and announceRate bound how fast inbound announces are
// processed, adapted from mini-rpc's rate_limit_middleware — there it
// throttles inbound RPC calls per client, here it throttles decode+dispatch
// work per multicast segment so a misbehaving or duplicated announcer can't
// flood the connect-attempt path.
const (
	announceRate  = 50 // per second
	announceBurst = 100
)

// Listener receives multicast announces and feeds them to a peer.Manager.
type Listener struct {
	conn      *net.UDPConn
	localUUID string
	manager   *peer.Manager
	limiter   *rate.Limiter
	log       *zap.SugaredLogger
}

// NewListener binds port on all interfaces and joins the given multicast
// group on every available interface.
func NewListener(group string, port uint16, localUUID string, manager *peer.Manager, log *zap.SugaredLogger) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: int(port)})
	if err != nil {
		return nil, err
	}

	groupAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(group, strconv.Itoa(int(port))))
	if err != nil {
		conn.Close()
		return nil, err
	}

	pc := ipv4.NewPacketConn(conn)
	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, err
	}

	joined := 0
	for i := range ifaces {
		if err := pc.JoinGroup(&ifaces[i], groupAddr); err == nil {
			joined++
		}
	}
	if joined == 0 {
		conn.Close()
		return nil, net.UnknownNetworkError("no usable multicast interface found")
	}

	return &Listener{
		conn:      conn,
		localUUID: localUUID,
		manager:   manager,
		limiter:   rate.NewLimiter(rate.Limit(announceRate), announceBurst),
		log:       log,
	}, nil
}

// Run reads announce datagrams until ctx is cancelled or the socket closes.
func (l *Listener) Run(ctx context.Context) {
	buf := make([]byte, datagramBufferSize)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.log.Debugw("announce listener read error", "err", err)
			return
		}

		if !l.limiter.Allow() {
			l.log.Warnw("dropping announce, rate limit exceeded")
			continue
		}

		key, err := wire.DecodeAnnounce(buf[:n])
		if err != nil {
			l.log.Errorw("malformed announce datagram, dropping", "err", err)
			continue
		}
		if key.UUID == l.localUUID {
			continue
		}

		l.manager.OnAnnounce(ctx, key)
	}
}

// Close releases the listener's socket, unblocking Run.
func (l *Listener) Close() error {
	return l.conn.Close()
}
