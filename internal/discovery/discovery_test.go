package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"locatord/internal/catalog"
	"locatord/internal/gateway"
	"locatord/internal/peer"
	"locatord/internal/router"
)

const testMulticastGroup = "239.255.50.50"
const testMulticastPort = 17654

// TestAnnounceRoundTrip exercises P5 from spec.md §8: an announcer's
// datagrams reach a listener and populate the peer manager, and known peers
// get their heartbeat reset instead of a second session attempt.
// Self-announce filtering is covered by TestSelfAnnounceFiltered.
//
// Environments where the multicast sockets cannot be opened or the group
// cannot be joined on any interface skip rather than fail, the same
// accommodation mini-rpc's etcd-backed integration tests make for a missing
// etcd. An environment that joins the group but never delivers the
// datagrams still fails on the timeout below.
func TestAnnounceRoundTrip(t *testing.T) {
	log := zap.NewNop().Sugar()

	r := router.New(nil)
	gw := gateway.NewMemory()
	mgr := peer.NewManager("listener-uuid", r, gw, time.Minute, log)
	defer mgr.Close()

	// The manager only tracks a peer once its synchronize channel connects,
	// so the announced key must point at a TCP port that accepts.
	syncLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer syncLn.Close()

	listener, err := NewListener(testMulticastGroup, testMulticastPort, "listener-uuid", mgr, log)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	announcer, err := NewAnnouncer(testMulticastGroup, testMulticastPort, catalog.PeerKey{
		UUID:        "announcer-uuid",
		Hostname:    "127.0.0.1",
		LocatorPort: uint16(syncLn.Addr().(*net.TCPAddr).Port),
	}, log)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer announcer.Close()

	announcer.send()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mgr.Snapshot()) == 0 {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		// A second send must not create a duplicate session, just reset
		// the heartbeat of the one already tracked.
		announcer.send()
		time.Sleep(50 * time.Millisecond)
		if got := len(mgr.Snapshot()); got != 1 {
			t.Fatalf("expected exactly one tracked peer, got %d", got)
		}
		return
	}
	t.Fatal("timed out waiting for announce to be observed")
}

func TestSelfAnnounceFiltered(t *testing.T) {
	log := zap.NewNop().Sugar()
	r := router.New(nil)
	gw := gateway.NewMemory()
	mgr := peer.NewManager("self-uuid", r, gw, time.Minute, log)
	defer mgr.Close()

	// A port that accepts, so only the self-UUID filter keeps the announce
	// out of the peer table.
	syncLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer syncLn.Close()

	listener, err := NewListener(testMulticastGroup, testMulticastPort+1, "self-uuid", mgr, log)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	announcer, err := NewAnnouncer(testMulticastGroup, testMulticastPort+1, catalog.PeerKey{
		UUID:        "self-uuid",
		Hostname:    "127.0.0.1",
		LocatorPort: uint16(syncLn.Addr().(*net.TCPAddr).Port),
	}, log)
	if err != nil {
		t.Skipf("multicast not available in this environment: %v", err)
	}
	defer announcer.Close()

	announcer.send()
	time.Sleep(200 * time.Millisecond)

	if got := len(mgr.Snapshot()); got != 0 {
		t.Fatalf("expected self-announce to be filtered, got %d tracked peers", got)
	}
}
