package router

import "locatord/internal/groupindex"

// groupRegistry maps group names to their GroupIndex, plus an inverse index
// from service name to the set of (group name, index) pairs it participates
// in. The inverse index is what lets a single service appearing or
// disappearing update every affected group in O(memberships) instead of
// scanning every group.
type groupRegistry struct {
	groups   map[string]*groupindex.GroupIndex
	inverted map[string]map[string]int // service name -> group name -> index
}

func newGroupRegistry() *groupRegistry {
	return &groupRegistry{
		groups:   make(map[string]*groupindex.GroupIndex),
		inverted: make(map[string]map[string]int),
	}
}

// add registers (or replaces) a group. hasProvider reports whether the
// router currently has at least one local or remote provider for a given
// service name, used to seed the initial active/inactive state.
func (r *groupRegistry) add(name string, mapping map[string]uint32, hasProvider func(string) bool) {
	r.remove(name)

	idx := groupindex.New(mapping)
	for i, svc := range idx.Services() {
		if hasProvider(svc) {
			idx.Add(i)
		}
		if r.inverted[svc] == nil {
			r.inverted[svc] = make(map[string]int)
		}
		r.inverted[svc][name] = i
	}
	r.groups[name] = idx
}

func (r *groupRegistry) remove(name string) {
	idx, ok := r.groups[name]
	if !ok {
		return
	}
	for _, svc := range idx.Services() {
		delete(r.inverted[svc], name)
		if len(r.inverted[svc]) == 0 {
			delete(r.inverted, svc)
		}
	}
	delete(r.groups, name)
}

func (r *groupRegistry) get(name string) (*groupindex.GroupIndex, bool) {
	idx, ok := r.groups[name]
	return idx, ok
}

// serviceAppeared activates service in every group that indexes it. Called
// when a name transitions from zero to one provider (local or remote).
func (r *groupRegistry) serviceAppeared(name string) {
	for gname, i := range r.inverted[name] {
		r.groups[gname].Add(i)
	}
}

// serviceDisappeared deactivates service in every group that indexes it.
// Called when a name transitions from one provider to zero.
func (r *groupRegistry) serviceDisappeared(name string) {
	for gname, i := range r.inverted[name] {
		r.groups[gname].Remove(i)
	}
}
