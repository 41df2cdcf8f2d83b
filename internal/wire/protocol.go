// Package wire implements the framing and serialization for the
// synchronize RPC's TCP channel, plus the MessagePack codec for multicast
// announces.
//
// Framing solves TCP's sticky packet problem the same way mini-rpc's
// protocol package does: a fixed-size header carries a body length, and the
// receiver reads exactly that many bytes for the body. The header is
// extended here with the message types the synchronize RPC actually uses
// (subscribe/chunk/choke/error) in place of mini-rpc's generic
// request/response/heartbeat triad — the synchronize channel is a
// server-push stream, not a multiplexed call/reply protocol, so there's no
// sequence number to correlate.
//
//	0      3  4  5         9        13
//	┌──────┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │mt│ reserved│ bodyLen │    body ...    │
//	│ 'lct'│01│  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴─────────┴───────────────┘
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	magic0, magic1, magic2 byte = 'l', 'c', 't'
	version                byte = 0x01
	// HeaderSize is 3 (magic) + 1 (version) + 1 (msgType) + 4 (reserved) + 4 (bodyLen).
	HeaderSize = 13
)

// MsgType distinguishes the frames exchanged on a synchronize channel.
type MsgType byte

const (
	// MsgTypeSubscribe is sent once by the client to open the stream.
	MsgTypeSubscribe MsgType = iota
	// MsgTypeChunk carries a full catalog snapshot, server -> client.
	MsgTypeChunk
	// MsgTypeChoke signals a clean server shutdown, server -> client.
	MsgTypeChoke
	// MsgTypeError signals a server-side protocol or internal error.
	MsgTypeError
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeSubscribe:
		return "subscribe"
	case MsgTypeChunk:
		return "chunk"
	case MsgTypeChoke:
		return "choke"
	case MsgTypeError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Header is the fixed 13-byte frame header.
type Header struct {
	MsgType MsgType
	BodyLen uint32
}

// Encode writes a complete frame (header + body) to w.
func Encode(w io.Writer, h Header, body []byte) error {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1], buf[2] = magic0, magic1, magic2
	buf[3] = version
	buf[4] = byte(h.MsgType)
	// bytes 5-8 reserved, left zero.
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(body)))

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads one complete frame from r.
func Decode(r io.Reader) (Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Header{}, nil, err
	}

	if headerBuf[0] != magic0 || headerBuf[1] != magic1 || headerBuf[2] != magic2 {
		return Header{}, nil, fmt.Errorf("wire: invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != version {
		return Header{}, nil, fmt.Errorf("wire: unsupported version: %d", headerBuf[3])
	}

	msgType := MsgType(headerBuf[4])
	bodyLen := binary.BigEndian.Uint32(headerBuf[9:13])

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Header{}, nil, err
		}
	}

	return Header{MsgType: msgType, BodyLen: bodyLen}, body, nil
}
