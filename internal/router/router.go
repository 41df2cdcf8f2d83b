// Package router implements the dual index of remote services and local
// service names, the group registry, and the select_service entry point.
//
// Router is the hot path: a client resolve() consults it on every call, so
// all mutating operations run in O(catalog size) + O(affected group
// entries) under one coarse mutex. If contention ever becomes visible the
// design note in spec.md suggests sharding by service-name hash; the public
// contract here doesn't change either way.
package router

import (
	"math/rand"
	"sort"
	"sync"

	"locatord/internal/catalog"
	"locatord/internal/groupindex"
)

// ErrNoGroupCandidate mirrors spec.md's NoGroupCandidate: select_service on
// a known group whose active weight sum is zero.
var ErrNoGroupCandidate = groupindex.ErrNoCandidate

// Router is the in-memory dual index described in spec.md §4.2. The zero
// value is not usable; construct with New.
type Router struct {
	mu sync.Mutex

	byService map[string]map[string]struct{}        // name -> set<uuid>
	byPeer    map[string]map[string]catalog.ServiceInfo // uuid -> name -> info
	local     map[string]struct{}                    // locally-hosted service names

	groups *groupRegistry
	rng    *rand.Rand
}

// New builds an empty Router. rng seeds the group selection draws; pass
// rand.New(rand.NewSource(time.Now().UnixNano())) in production and a fixed
// seed in tests.
func New(rng *rand.Rand) *Router {
	return &Router{
		byService: make(map[string]map[string]struct{}),
		byPeer:    make(map[string]map[string]catalog.ServiceInfo),
		local:     make(map[string]struct{}),
		groups:    newGroupRegistry(),
		rng:       rng,
	}
}

// hasProviderLocked reports whether name currently has any local or remote
// provider. Caller must hold mu.
func (r *Router) hasProviderLocked(name string) bool {
	if _, ok := r.local[name]; ok {
		return true
	}
	return len(r.byService[name]) > 0
}

// AddLocal advertises a locally-hosted service.
func (r *Router) AddLocal(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.hasProviderLocked(name)
	r.local[name] = struct{}{}
	if !before {
		r.groups.serviceAppeared(name)
	}
}

// RemoveLocal retracts a locally-hosted service.
func (r *Router) RemoveLocal(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.local[name]; !ok {
		return
	}
	delete(r.local, name)
	if !r.hasProviderLocked(name) {
		r.groups.serviceDisappeared(name)
	}
}

// UpdateRemote replaces the recorded catalog for uuid with next, returning
// the symmetric difference as two deterministically (lexicographically by
// name) ordered lists. A service whose ServiceInfo changed produces both a
// removed and an added entry, so the gateway observes cleanup then consume
// for it — removed is always processed before added, per spec.md's explicit
// "iterate removed then added" contract.
//
// An empty next is equivalent to RemoveRemote(uuid): by invariant I1, a peer
// with no advertised services isn't tracked at all.
func (r *Router) UpdateRemote(uuid string, next map[string]catalog.ServiceInfo) (added, removed []catalog.NamedInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.byPeer[uuid]

	names := make(map[string]struct{}, len(old)+len(next))
	for name := range old {
		names[name] = struct{}{}
	}
	for name := range next {
		names[name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		oldInfo, hadOld := old[name]
		newInfo, hasNew := next[name]

		switch {
		case hadOld && !hasNew:
			removed = append(removed, catalog.NamedInfo{Name: name, Info: oldInfo})
		case !hadOld && hasNew:
			added = append(added, catalog.NamedInfo{Name: name, Info: newInfo})
		case hadOld && hasNew && !catalog.Equal(oldInfo, newInfo):
			removed = append(removed, catalog.NamedInfo{Name: name, Info: oldInfo})
			added = append(added, catalog.NamedInfo{Name: name, Info: newInfo})
		}
	}

	// Removed first, added second — mirrors the gateway notification order
	// and keeps by_service/by_peer in lockstep throughout.
	for _, ni := range removed {
		r.dropProviderLocked(uuid, ni.Name)
	}
	for _, ni := range added {
		r.addProviderLocked(uuid, ni.Name)
	}

	if len(next) == 0 {
		delete(r.byPeer, uuid)
	} else {
		r.byPeer[uuid] = cloneCatalog(next)
	}

	return added, removed
}

// RemoveRemote drops a peer entirely, returning its last known catalog.
func (r *Router) RemoveRemote(uuid string) map[string]catalog.ServiceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.byPeer[uuid]
	delete(r.byPeer, uuid)

	names := make([]string, 0, len(old))
	for name := range old {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r.dropProviderLocked(uuid, name)
	}

	return old
}

// dropProviderLocked removes uuid as a provider of name from by_service,
// toggling the group registry if that was the last provider. Caller holds
// mu.
func (r *Router) dropProviderLocked(uuid, name string) {
	before := r.hasProviderLocked(name)
	if peers, ok := r.byService[name]; ok {
		delete(peers, uuid)
		if len(peers) == 0 {
			delete(r.byService, name)
		}
	}
	if before && !r.hasProviderLocked(name) {
		r.groups.serviceDisappeared(name)
	}
}

// addProviderLocked records uuid as a provider of name in by_service,
// toggling the group registry if this is the first provider. Caller holds
// mu.
func (r *Router) addProviderLocked(uuid, name string) {
	before := r.hasProviderLocked(name)
	if r.byService[name] == nil {
		r.byService[name] = make(map[string]struct{})
	}
	r.byService[name][uuid] = struct{}{}
	if !before {
		r.groups.serviceAppeared(name)
	}
}

// AddGroup registers (or re-registers, for refresh) a routing group.
func (r *Router) AddGroup(name string, mapping map[string]uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups.add(name, mapping, r.hasProviderLocked)
}

// RemoveGroup deletes a routing group, e.g. when refresh finds it gone from
// storage.
func (r *Router) RemoveGroup(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups.remove(name)
}

// SelectService resolves name: if it names a known group, it runs the
// group's weighted draw; otherwise it's returned unchanged (pass-through),
// matching spec.md's resolve contract for plain service names.
func (r *Router) SelectService(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.groups.get(name)
	if !ok {
		return name, nil
	}
	return idx.Select(r.rng)
}

// Has reports whether any local or remote provider advertises name.
func (r *Router) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasProviderLocked(name)
}

func cloneCatalog(m map[string]catalog.ServiceInfo) map[string]catalog.ServiceInfo {
	out := make(map[string]catalog.ServiceInfo, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
