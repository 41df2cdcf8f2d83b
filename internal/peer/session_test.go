package peer

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"locatord/internal/catalog"
	"locatord/internal/gateway"
	"locatord/internal/router"
	"locatord/internal/wire"
)

// fakeServer accepts one subscribe connection and lets the test drive what
// it pushes, mirroring mini-rpc's server_test.go loopback-dial style.
type fakeServer struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return &fakeServer{t: t, ln: ln}
}

func (f *fakeServer) accept() {
	f.t.Helper()
	conn, err := f.ln.Accept()
	if err != nil {
		f.t.Fatalf("accept: %v", err)
	}
	header, _, err := wire.Decode(conn)
	if err != nil || header.MsgType != wire.MsgTypeSubscribe {
		f.t.Fatalf("expected subscribe, got %v, err %v", header.MsgType, err)
	}
	f.conn = conn
}

func (f *fakeServer) pushChunk(c map[string]catalog.ServiceInfo) {
	f.t.Helper()
	body, err := wire.EncodeCatalog(c)
	if err != nil {
		f.t.Fatalf("encode catalog: %v", err)
	}
	if err := wire.Encode(f.conn, wire.Header{MsgType: wire.MsgTypeChunk}, body); err != nil {
		f.t.Fatalf("push chunk: %v", err)
	}
}

func (f *fakeServer) choke() {
	f.t.Helper()
	wire.Encode(f.conn, wire.Header{MsgType: wire.MsgTypeChoke}, nil)
}

func (f *fakeServer) port(t *testing.T) uint16 {
	t.Helper()
	_, portStr, err := net.SplitHostPort(f.ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	n, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return uint16(n)
}

func TestConnectSubscribesAndAppliesChunk(t *testing.T) {
	srv := startFakeServer(t)
	defer srv.ln.Close()

	done := make(chan struct{})
	go func() { srv.accept(); close(done) }()

	r := router.New(nil)
	gw := gateway.NewMemory()
	removed := make(chan string, 1)

	sess, err := Connect(context.Background(), catalog.PeerKey{
		UUID:        "peer-a",
		Hostname:    "127.0.0.1",
		LocatorPort: srv.port(t),
	}, r, gw, time.Minute, zap.NewNop().Sugar(), func(uuid string) { removed <- uuid })
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-done

	srv.pushChunk(map[string]catalog.ServiceInfo{"echo": {Version: 1}})
	time.Sleep(50 * time.Millisecond)

	if !r.Has("echo") {
		t.Fatalf("expected router to learn about echo")
	}
	if _, err := gw.Resolve(context.Background(), "echo"); err != nil {
		t.Fatalf("expected gateway to have consumed echo: %v", err)
	}

	srv.choke()
	select {
	case uuid := <-removed:
		if uuid != "peer-a" {
			t.Fatalf("expected peer-a removed, got %s", uuid)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session removal after choke")
	}

	if r.Has("echo") {
		t.Fatalf("expected router to drop echo after choke")
	}
	if _, err := gw.Resolve(context.Background(), "echo"); err == nil {
		t.Fatalf("expected gateway to forget echo after choke")
	}

	sess.shutdown() // idempotent
}

func TestConnectUnreachable(t *testing.T) {
	r := router.New(nil)
	gw := gateway.NewMemory()

	_, err := Connect(context.Background(), catalog.PeerKey{
		UUID:        "peer-b",
		Hostname:    "127.0.0.1",
		LocatorPort: 1, // nothing listens on port 1
	}, r, gw, time.Minute, zap.NewNop().Sugar(), func(string) {})
	if err == nil {
		t.Fatalf("expected connect to an unreachable port to fail")
	}
}
