// Package groupindex implements the weighted-selection structure backing a
// single routing group.
//
// Selection is the hot path of the router (it runs on every resolve of a
// group name), so the group keeps parallel vectors instead of a map: a
// contiguous scan over a handful of integer weights is cache-friendly and
// avoids map lookup overhead. This is the same shape mini-rpc's
// WeightedRandomBalancer uses (sum the weights, draw uniformly in
// [0, sum), walk the cumulative sum) — GroupIndex just keeps the running
// sum and per-service "used weight" (0 when nothing currently serves that
// name) so add/remove is O(1) instead of re-summing on every select.
package groupindex

import (
	"errors"
	"math/rand"
	"sort"
)

// ErrNoCandidate is returned by Select when every service in the group is
// currently unavailable (used weight sum is zero).
var ErrNoCandidate = errors.New("groupindex: no candidate service available")

// GroupIndex holds the weighted selection state for one named routing
// group. The zero value is not usable; construct with New.
type GroupIndex struct {
	services []string
	weights  []uint32
	used     []uint32
	sum      uint64
}

// New builds a GroupIndex from a persisted name→weight mapping. Entries are
// sorted by name for a deterministic tie-break on ties and reproducible
// iteration order; every used weight starts at zero until Add is called for
// services the router currently has a provider for.
func New(mapping map[string]uint32) *GroupIndex {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	g := &GroupIndex{
		services: names,
		weights:  make([]uint32, len(names)),
		used:     make([]uint32, len(names)),
	}
	for i, name := range names {
		g.weights[i] = mapping[name]
	}
	return g
}

// Services returns the group's service names in construction order. The
// index into this slice is the same index Add/Remove expect.
func (g *GroupIndex) Services() []string {
	return g.services
}

// IndexOf returns the position of name within the group, if present.
func (g *GroupIndex) IndexOf(name string) (int, bool) {
	i := sort.SearchStrings(g.services, name)
	if i < len(g.services) && g.services[i] == name {
		return i, true
	}
	return 0, false
}

// Add activates service i: it becomes eligible for selection with its
// declared weight. The caller (GroupRegistry) must only call this when the
// service just gained its first provider; calling it while already active
// is a bug and panics, matching the "used_weights[i] == 0" precondition in
// the design.
func (g *GroupIndex) Add(i int) {
	if g.used[i] != 0 {
		panic("groupindex: Add called on an already-active service")
	}
	g.used[i] = g.weights[i]
	g.sum += uint64(g.weights[i])
}

// Remove deactivates service i: it drops out of selection until re-added.
// Precondition: the service is currently active.
func (g *GroupIndex) Remove(i int) {
	if g.used[i] != g.weights[i] {
		panic("groupindex: Remove called on an inactive service")
	}
	g.sum -= uint64(g.used[i])
	g.used[i] = 0
}

// Sum returns the current sum of active weights.
func (g *GroupIndex) Sum() uint64 {
	return g.sum
}

// Select draws a service name weighted by used_weights, using rng for the
// draw. Fails with ErrNoCandidate if no service is currently active.
func (g *GroupIndex) Select(rng *rand.Rand) (string, error) {
	if g.sum == 0 {
		return "", ErrNoCandidate
	}

	r := uint64(rng.Int63n(int64(g.sum)))
	var cumulative uint64
	for i, w := range g.used {
		cumulative += uint64(w)
		if r < cumulative {
			return g.services[i], nil
		}
	}
	// Unreachable if sum is accounted for correctly.
	panic("groupindex: selection walked past the weight sum")
}
