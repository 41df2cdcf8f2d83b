package wire

import (
	"bytes"
	"strings"
	"testing"

	"locatord/internal/catalog"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	header := Header{MsgType: MsgTypeChunk}
	body := []byte("hello locator")

	var buf bytes.Buffer
	if err := Encode(&buf, header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %v, want %v", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("body mismatch: got %q, want %q", decodedBody, body)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, Header{MsgType: MsgTypeChoke}, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	header, body, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if header.MsgType != MsgTypeChoke {
		t.Errorf("MsgType mismatch: got %v, want %v", header.MsgType, MsgTypeChoke)
	}
	if len(body) != 0 {
		t.Errorf("expected empty body, got length %d", len(body))
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, version, byte(MsgTypeSubscribe), 0, 0, 0, 0, 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected an error for invalid magic, got nil")
	}
	if !strings.Contains(err.Error(), "invalid magic") {
		t.Errorf("expected error to mention invalid magic, got: %v", err)
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{magic0, magic1, magic2, 0xFF, byte(MsgTypeSubscribe), 0, 0, 0, 0, 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected an error for unsupported version, got nil")
	}
	if !strings.Contains(err.Error(), "unsupported version") {
		t.Errorf("expected error to mention unsupported version, got: %v", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	large := make([]byte, 1<<20)
	for i := range large {
		large[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, Header{MsgType: MsgTypeChunk}, large); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, large) {
		t.Error("large body round-trip mismatch")
	}
}

func TestAnnounceCodecRoundTrip(t *testing.T) {
	key := catalog.PeerKey{UUID: "abc-123", Hostname: "node-1.local", LocatorPort: 10054}

	body, err := EncodeAnnounce(key)
	if err != nil {
		t.Fatalf("EncodeAnnounce failed: %v", err)
	}
	got, err := DecodeAnnounce(body)
	if err != nil {
		t.Fatalf("DecodeAnnounce failed: %v", err)
	}
	if got != key {
		t.Errorf("announce round-trip mismatch: got %+v, want %+v", got, key)
	}
}

func TestAnnounceDecodeMalformed(t *testing.T) {
	if _, err := DecodeAnnounce([]byte("not msgpack")); err == nil {
		t.Fatal("expected malformed announce to fail decoding")
	}
}

func TestCatalogCodecRoundTrip(t *testing.T) {
	c := map[string]catalog.ServiceInfo{
		"echo": {
			Endpoints: []catalog.Endpoint{{Address: "127.0.0.1", Port: 9000}},
			Version:   1,
		},
	}

	body, err := EncodeCatalog(c)
	if err != nil {
		t.Fatalf("EncodeCatalog failed: %v", err)
	}
	got, err := DecodeCatalog(body)
	if err != nil {
		t.Fatalf("DecodeCatalog failed: %v", err)
	}
	if len(got) != 1 || !catalog.Equal(got["echo"], c["echo"]) {
		t.Errorf("catalog round-trip mismatch: got %+v", got)
	}
}
