// Package localtable implements the LocalServiceTable from spec.md §3: the
// ordered, name-unique set of services this node hosts, plus the port pool
// attach/detach draws from.
package localtable

import (
	"errors"

	"locatord/internal/catalog"
)

// ErrAlreadyAttached is returned by Table.Insert when name is already taken.
var ErrAlreadyAttached = errors.New("localtable: name already attached")

// ErrNotAttached is returned by Table.Remove when name is unknown.
var ErrNotAttached = errors.New("localtable: name not attached")

// ErrNoPortsLeft mirrors spec.md's NoPortsLeft: the port pool is exhausted.
var ErrNoPortsLeft = errors.New("localtable: no ports left for allocation")

// ServiceHandle is the local service actor capability surface the
// orchestrator consumes, per spec.md §1's "out of scope" list: the actor
// runtime itself lives outside this module, but attach/detach/resolve/
// reports all need these four operations on whatever the runtime started.
type ServiceHandle interface {
	Endpoints() []catalog.Endpoint
	Metadata() catalog.ServiceInfo
	Counters() catalog.Counters
	Terminate() error
}

type entry struct {
	name   string
	handle ServiceHandle
}

// Table is the ordered (name, ServiceHandle) sequence from spec.md §3, plus
// a LIFO port pool over [min, max). It is not internally synchronized: the
// orchestrator's services_mutex guards both the table and the pool as one
// unit, per spec.md §5, so Table assumes single-writer access under that
// lock.
type Table struct {
	entries []entry
	index   map[string]int // name -> position in entries

	ports []uint16 // free port stack; empty if no range was configured
}

// New builds a Table with a port pool covering [min, max). Pass min == max
// for a table with no port allocation (e.g. services bind externally).
func New(min, max uint16) *Table {
	t := &Table{index: make(map[string]int)}
	for p := max; p > min; p-- {
		t.ports = append(t.ports, p-1)
	}
	return t
}

// AllocatePort pops a free port from the pool.
func (t *Table) AllocatePort() (uint16, error) {
	if len(t.ports) == 0 {
		return 0, ErrNoPortsLeft
	}
	n := len(t.ports) - 1
	port := t.ports[n]
	t.ports = t.ports[:n]
	return port, nil
}

// ReleasePort returns a port to the pool (detach's mirror of AllocatePort).
func (t *Table) ReleasePort(port uint16) {
	t.ports = append(t.ports, port)
}

// Insert records a newly attached service. Fails if name is already taken.
func (t *Table) Insert(name string, handle ServiceHandle) error {
	if _, ok := t.index[name]; ok {
		return ErrAlreadyAttached
	}
	t.index[name] = len(t.entries)
	t.entries = append(t.entries, entry{name: name, handle: handle})
	return nil
}

// Remove detaches a service, returning its handle for final disposal by the
// caller (ownership transfers out, per spec.md §5's resource model).
func (t *Table) Remove(name string) (ServiceHandle, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, ErrNotAttached
	}
	handle := t.entries[i].handle

	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	delete(t.index, name)
	for j := i; j < len(t.entries); j++ {
		t.index[t.entries[j].name] = j
	}

	return handle, nil
}

// Get looks up a service handle by name.
func (t *Table) Get(name string) (ServiceHandle, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.entries[i].handle, true
}

// Names returns the attached service names in insertion order.
func (t *Table) Names() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.name
	}
	return names
}

// Snapshot builds a name -> ServiceInfo map of every attached service's
// current metadata, for the Synchronizer to push.
func (t *Table) Snapshot() map[string]catalog.ServiceInfo {
	out := make(map[string]catalog.ServiceInfo, len(t.entries))
	for _, e := range t.entries {
		out[e.name] = e.handle.Metadata()
	}
	return out
}

// Reports builds the reports() result: every local service's channel count
// and per-endpoint usage.
func (t *Table) Reports() map[string]catalog.Counters {
	out := make(map[string]catalog.Counters, len(t.entries))
	for _, e := range t.entries {
		out[e.name] = e.handle.Counters()
	}
	return out
}
