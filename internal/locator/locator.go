// Package locator implements the orchestrator from spec.md §4.7: it owns
// the local service table, the port pool, the Router, the optional
// Gateway, the Synchronizer, and the peer table, and exposes the public
// resolve/reports/refresh/attach/detach surface.
package locator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"locatord/internal/catalog"
	"locatord/internal/catalogsync"
	"locatord/internal/discovery"
	"locatord/internal/gateway"
	"locatord/internal/localtable"
	"locatord/internal/peer"
	"locatord/internal/router"
	"locatord/internal/storage"
)

// ErrUnavailable mirrors spec.md's Unavailable: resolve missed both the
// local table and the gateway.
var ErrUnavailable = errors.New("locator: service unavailable")

// gatewayResolveTimeout bounds the one call spec.md §5 flags as
// potentially blocking: a real Gateway.Resolve may dial out to confirm a
// remote peer is reachable before answering.
const gatewayResolveTimeout = 5 * time.Second

// Options configures a Locator at construction time.
type Options struct {
	UUID           string
	Hostname       string
	MulticastGroup string
	LocatorPort    uint16
	BindAddr       string
	PortMin        uint16
	PortMax        uint16
	HeartbeatTTL   time.Duration
	Log            *zap.SugaredLogger
	Gateway        gateway.Gateway // nil selects gateway.NewMemory()
	Store          storage.Store   // nil disables group refresh
}

// Locator is the per-node daemon tying the discovery and routing
// subsystems together. The zero value is not usable; build one with New.
type Locator struct {
	uuid        string
	hostname    string
	group       string
	locatorPort uint16
	bindAddr    string
	log         *zap.SugaredLogger

	servicesMu sync.Mutex
	table      *localtable.Table
	ports      map[string]uint16 // attached name -> port allocated by Attach

	router  *router.Router
	gateway gateway.Gateway
	store   storage.Store

	sync     *catalogsync.Synchronizer
	peers    *peer.Manager
	announce *discovery.Announcer
	listen   *discovery.Listener

	cancel context.CancelFunc
}

// lockedSnapshot adapts Locator to catalogsync.Source. Table is documented
// as single-writer under servicesMu (see localtable.Table), but the
// Synchronizer's goroutines call Snapshot from outside the orchestrator's
// Attach/Detach call stack — without this adapter that read races the
// entries/index mutations Attach/Detach make while holding servicesMu, the
// same race class the teacher's etcd_registry.go guards against by always
// reading and writing its cache under one lock. Routing the Synchronizer's
// reads through the same mutex Attach/Detach hold makes Table.Snapshot's
// "single-writer" contract actually true instead of merely documented.
type lockedSnapshot struct {
	l *Locator
}

func (s lockedSnapshot) Snapshot() map[string]catalog.ServiceInfo {
	s.l.servicesMu.Lock()
	defer s.l.servicesMu.Unlock()
	return s.l.table.Snapshot()
}

// New builds a Locator. It does not start any network I/O; call Connect for
// that. A nil Options.Gateway is replaced by the in-memory reference
// gateway, so a Locator always has a gateway: there is no gateway-less mode,
// and Connect always starts the synchronize server.
func New(opts Options) *Locator {
	r := router.New(rand.New(rand.NewSource(time.Now().UnixNano())))

	gw := opts.Gateway
	if gw == nil {
		gw = gateway.NewMemory()
	}

	l := &Locator{
		uuid:        opts.UUID,
		hostname:    opts.Hostname,
		group:       opts.MulticastGroup,
		locatorPort: opts.LocatorPort,
		bindAddr:    opts.BindAddr,
		log:         opts.Log,
		table:       localtable.New(opts.PortMin, opts.PortMax),
		ports:       make(map[string]uint16),
		router:      r,
		gateway:     gw,
		store:       opts.Store,
	}
	l.sync = catalogsync.New(lockedSnapshot{l: l}, opts.Log.Named("catalogsync"))
	l.peers = peer.NewManager(opts.UUID, r, gw, opts.HeartbeatTTL, opts.Log.Named("peer"))
	return l
}

// Connect starts the announcer, the announce listener, and the
// synchronize server. ctx bounds the lifetime of the background loops;
// cancelling it (or calling Disconnect) tears everything down.
func (l *Locator) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	announcer, err := discovery.NewAnnouncer(l.group, l.locatorPort, catalog.PeerKey{
		UUID:        l.uuid,
		Hostname:    l.hostname,
		LocatorPort: l.locatorPort,
	}, l.log.Named("announcer"))
	if err != nil {
		cancel()
		return fmt.Errorf("locator: start announcer: %w", err)
	}
	l.announce = announcer

	listener, err := discovery.NewListener(l.group, l.locatorPort, l.uuid, l.peers, l.log.Named("listener"))
	if err != nil {
		cancel()
		announcer.Close()
		return fmt.Errorf("locator: start announce listener: %w", err)
	}
	l.listen = listener

	go l.announce.Run(ctx)
	go l.listen.Run(ctx)
	go func() {
		addr := fmt.Sprintf("%s:%d", l.bindAddr, l.locatorPort)
		if err := l.sync.Serve("tcp", addr); err != nil {
			l.log.Errorw("synchronizer stopped", "err", err)
		}
	}()

	return nil
}

// Disconnect deterministically tears down the listener, the announcer, the
// peer sessions, the synchronizer, and the gateway, in that order, per
// spec.md §5's shutdown contract.
func (l *Locator) Disconnect() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.listen != nil {
		l.listen.Close()
	}
	if l.announce != nil {
		l.announce.Close()
	}
	l.peers.Close()
	l.sync.Shutdown()
	l.gateway.Disconnect()
}

// Attach records a newly started local service: allocates a port, inserts
// it into the table, then notifies the Router and the Synchronizer.
//
// handleFactory receives the allocated port and must start the service,
// returning its ServiceHandle. If handleFactory fails the port is returned
// to the pool and nothing is recorded.
func (l *Locator) Attach(name string, handleFactory func(port uint16) (localtable.ServiceHandle, error)) error {
	l.servicesMu.Lock()

	if _, ok := l.table.Get(name); ok {
		l.servicesMu.Unlock()
		return localtable.ErrAlreadyAttached
	}

	port, err := l.table.AllocatePort()
	if err != nil {
		l.servicesMu.Unlock()
		return err
	}

	handle, err := handleFactory(port)
	if err != nil {
		l.table.ReleasePort(port)
		l.servicesMu.Unlock()
		return fmt.Errorf("locator: start service %q: %w", name, err)
	}

	if err := l.table.Insert(name, handle); err != nil {
		l.table.ReleasePort(port)
		l.servicesMu.Unlock()
		return err
	}
	l.ports[name] = port
	l.servicesMu.Unlock()

	l.router.AddLocal(name)
	l.sync.Update()
	return nil
}

// Detach stops and removes a local service, returning its port to the
// pool.
func (l *Locator) Detach(name string) error {
	l.servicesMu.Lock()
	handle, err := l.table.Remove(name)
	if err != nil {
		l.servicesMu.Unlock()
		return err
	}
	if port, ok := l.ports[name]; ok {
		l.table.ReleasePort(port)
		delete(l.ports, name)
	}
	l.servicesMu.Unlock()

	l.router.RemoveLocal(name)
	l.sync.Update()

	return handle.Terminate()
}

// Resolve answers a client lookup: route through the router's
// select_service, then satisfy locally if possible, otherwise delegate to
// the gateway.
func (l *Locator) Resolve(name string) (catalog.ServiceInfo, error) {
	resolved, err := l.router.SelectService(name)
	if err != nil {
		return catalog.ServiceInfo{}, err
	}

	l.servicesMu.Lock()
	handle, ok := l.table.Get(resolved)
	l.servicesMu.Unlock()
	if ok {
		return handle.Metadata(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatewayResolveTimeout)
	defer cancel()

	info, err := l.gateway.Resolve(ctx, resolved)
	if err != nil {
		return catalog.ServiceInfo{}, fmt.Errorf("%w: %s", ErrUnavailable, resolved)
	}
	return info, nil
}

// Reports snapshots every local service's usage counters.
func (l *Locator) Reports() map[string]catalog.Counters {
	l.servicesMu.Lock()
	defer l.servicesMu.Unlock()
	return l.table.Reports()
}

// Refresh re-reads one group from storage, per spec.md §4.7. Absence from
// storage deletes the group from the router; a storage outage is reported
// and the existing group definition is left untouched.
func (l *Locator) Refresh(ctx context.Context, name string) error {
	if l.store == nil {
		return nil
	}

	mapping, found, err := l.store.LoadGroup(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: refresh %q: %v", storage.ErrStorageUnavailable, name, err)
	}
	if !found {
		l.router.RemoveGroup(name)
		return nil
	}
	l.router.AddGroup(name, mapping)
	return nil
}

// RefreshAll lists every group storage currently knows about and refreshes
// each one, used at startup and on an operator-triggered full reload.
// Storage failures are logged and isolated per group — one group's failure
// never aborts the rest. A group that fails to load keeps whatever
// definition the router already had for it, and groups loaded before or
// after it are not cleared; a ListGroups failure leaves every group as it
// was.
func (l *Locator) RefreshAll(ctx context.Context) {
	if l.store == nil {
		return
	}

	names, err := l.store.ListGroups(ctx)
	if err != nil {
		l.log.Errorw("failed to list groups at startup, starting with an empty router", "err", err)
		return
	}
	sort.Strings(names)
	for _, name := range names {
		if err := l.Refresh(ctx, name); err != nil {
			l.log.Errorw("failed to refresh group", "group", name, "err", err)
		}
	}
}

// Peers returns the UUIDs of every currently tracked remote peer.
func (l *Locator) Peers() []string {
	return l.peers.Snapshot()
}
