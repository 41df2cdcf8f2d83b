// Package gateway defines the pluggable collaborator that owns remote
// service connectivity, per spec.md §1/§6, plus a reference in-memory
// implementation so resolve() has an end-to-end path to exercise without a
// real network-connectivity backend.
package gateway

import (
	"context"
	"errors"
	"sync"

	"locatord/internal/catalog"
)

// ErrUnavailable mirrors spec.md's Unavailable: resolve missed locally and
// the gateway has nothing for the name either.
var ErrUnavailable = errors.New("gateway: service unavailable")

// Gateway is the four-verb collaborator interface from spec.md §6. Resolve
// is the one call spec.md §5 flags as potentially blocking (a real gateway
// may dial out to confirm reachability), so it takes ctx and must honor its
// deadline/cancellation.
type Gateway interface {
	Consume(peerUUID, name string, info catalog.ServiceInfo)
	Cleanup(peerUUID, name string)
	Resolve(ctx context.Context, name string) (catalog.ServiceInfo, error)
	Disconnect()
}

// MemoryGateway is a reference Gateway: it records what PeerSession tells it
// to consume/cleanup and answers Resolve by scanning all known peers for a
// match. It has no real connectivity of its own — Resolve returns whatever
// ServiceInfo the remote peer last advertised, which is the same
// locator-protocol data the caller would need to dial it anyway.
type MemoryGateway struct {
	mu    sync.RWMutex
	byUUID map[string]map[string]catalog.ServiceInfo // peerUUID -> name -> info
}

// NewMemory builds an empty MemoryGateway.
func NewMemory() *MemoryGateway {
	return &MemoryGateway{byUUID: make(map[string]map[string]catalog.ServiceInfo)}
}

// Consume records that peerUUID now advertises name.
func (g *MemoryGateway) Consume(peerUUID, name string, info catalog.ServiceInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.byUUID[peerUUID] == nil {
		g.byUUID[peerUUID] = make(map[string]catalog.ServiceInfo)
	}
	g.byUUID[peerUUID][name] = info
}

// Cleanup forgets that peerUUID advertises name.
func (g *MemoryGateway) Cleanup(peerUUID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.byUUID[peerUUID]; ok {
		delete(m, name)
		if len(m) == 0 {
			delete(g.byUUID, peerUUID)
		}
	}
}

// Resolve returns the first known peer advertising name. Iteration order
// over peers is unspecified, matching spec.md §4.4's "across peers,
// ordering is unspecified" note — there's no preference among equally
// valid remote providers here. The in-memory lookup never actually blocks,
// but ctx is still honored so callers that do apply a deadline behave the
// same way against this reference implementation as against a real one.
func (g *MemoryGateway) Resolve(ctx context.Context, name string) (catalog.ServiceInfo, error) {
	if err := ctx.Err(); err != nil {
		return catalog.ServiceInfo{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, services := range g.byUUID {
		if info, ok := services[name]; ok {
			return info, nil
		}
	}
	return catalog.ServiceInfo{}, ErrUnavailable
}

// Disconnect drops all recorded state, mirroring the implicit teardown on
// the orchestrator's disconnect().
func (g *MemoryGateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byUUID = make(map[string]map[string]catalog.ServiceInfo)
}
