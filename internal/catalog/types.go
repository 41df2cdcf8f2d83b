// Package catalog defines the data types shared by the router, the
// synchronizer and the peer sessions: peer identity, the opaque service
// metadata blob, and the local service usage counters.
package catalog

import "reflect"

// PeerKey identifies a remote locator node. Uuid is the authoritative
// identity; Hostname and LocatorPort are transport coordinates used only to
// dial the node.
type PeerKey struct {
	UUID        string
	Hostname    string
	LocatorPort uint16
}

// Endpoint is a single reachable address for a service.
type Endpoint struct {
	Address string
	Port    uint16
}

// ServiceInfo is the opaque metadata the locator relays verbatim between
// nodes: an ordered list of endpoints plus a protocol descriptor. The
// locator never inspects Endpoints or MessageCatalog beyond equality.
type ServiceInfo struct {
	Endpoints      []Endpoint
	Version        uint32
	MessageCatalog map[uint32]string
}

// Equal reports whether two ServiceInfo values carry the same metadata.
// Router.UpdateRemote uses this to decide whether a name's info changed.
func Equal(a, b ServiceInfo) bool {
	return reflect.DeepEqual(a, b)
}

// NamedInfo pairs a service name with its metadata, used for diff results.
type NamedInfo struct {
	Name string
	Info ServiceInfo
}

// Counters is a snapshot of a local service's usage, mirroring the
// actor runtime's footprints report.
type Counters struct {
	Channels uint64
	Usage    map[Endpoint]uint64
}
