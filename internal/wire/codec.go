package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	"locatord/internal/catalog"
)

// announceWire is the on-the-wire shape of an announce datagram: the
// (uuid, hostname, port) triple from spec.md §6, MessagePack-encoded.
type announceWire struct {
	UUID     string `msgpack:"uuid"`
	Hostname string `msgpack:"hostname"`
	Port     uint16 `msgpack:"port"`
}

// EncodeAnnounce serializes a peer key for multicast.
func EncodeAnnounce(key catalog.PeerKey) ([]byte, error) {
	return msgpack.Marshal(announceWire{
		UUID:     key.UUID,
		Hostname: key.Hostname,
		Port:     key.LocatorPort,
	})
}

// DecodeAnnounce parses a multicast datagram into a peer key. Malformed
// input is the caller's cue to log and drop (spec.md §4.6).
func DecodeAnnounce(data []byte) (catalog.PeerKey, error) {
	var w announceWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return catalog.PeerKey{}, err
	}
	return catalog.PeerKey{UUID: w.UUID, Hostname: w.Hostname, LocatorPort: w.Port}, nil
}

// EncodeCatalog serializes a full catalog snapshot for a synchronize chunk.
func EncodeCatalog(c map[string]catalog.ServiceInfo) ([]byte, error) {
	return msgpack.Marshal(c)
}

// DecodeCatalog parses a synchronize chunk body. A decode error here is a
// protocol violation per spec.md §7: the caller must drop the session.
func DecodeCatalog(data []byte) (map[string]catalog.ServiceInfo, error) {
	var c map[string]catalog.ServiceInfo
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c, nil
}
