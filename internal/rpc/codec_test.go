package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	var buf bytes.Buffer
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("frame mismatch: got %q want %q", got, payload)
	}
}

func TestReadFrameRejectsBadHeader(t *testing.T) {
	for _, header := range []string{"abc\n", "-5\n", "0\n", "999999999999\n"} {
		_, err := readFrame(bufio.NewReader(strings.NewReader(header)))
		var protoErr *ProtocolError
		if err == nil || !errors.As(err, &protoErr) {
			t.Fatalf("header %q: expected protocol error, got %v", header, err)
		}
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	_, err := readFrame(bufio.NewReader(strings.NewReader("10\nshort")))
	if err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestEncodePayloadKeepsCompressionOnlyIfSmaller(t *testing.T) {
	small := &Request{JSONRPC: "2.0", ID: 1, Method: "x"}
	out, err := encodePayload(small, true)
	if err != nil {
		t.Fatalf("encode small: %v", err)
	}
	if bytes.HasPrefix(out, []byte(compressMarker)) {
		t.Fatalf("tiny payload should stay uncompressed")
	}

	big := &Request{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params: map[string]any{
			"blob": strings.Repeat("the same compressible line\n", 200),
		},
	}
	out, err = encodePayload(big, true)
	if err != nil {
		t.Fatalf("encode big: %v", err)
	}
	if !bytes.HasPrefix(out, []byte(compressMarker)) {
		t.Fatalf("repetitive payload should be marked compressed")
	}

	plain, err := json.Marshal(big)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(out) >= len(plain) {
		t.Fatalf("compressed form should be smaller: %d vs %d", len(out), len(plain))
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	req := &Request{
		JSONRPC: "2.0",
		ID:      7,
		Method:  "tools/call",
		Params:  map[string]any{"blob": strings.Repeat("data data data\n", 100)},
		SID:     "abcd1234",
	}
	encoded, err := encodePayload(req, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := decodePayload(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var back Request
	if err := json.Unmarshal(decoded, &back); err != nil {
		t.Fatalf("unmarshal decoded payload: %v", err)
	}
	if back.ID != req.ID || back.Method != req.Method || back.SID != req.SID {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func TestDecodePayloadPassthrough(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)
	out, err := decodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Fatalf("unmarked payload must pass through unchanged")
	}
}

func TestDecodePayloadBadGzip(t *testing.T) {
	_, err := decodePayload([]byte(compressMarker + "not gzip at all"))
	var protoErr *ProtocolError
	if err == nil || !errors.As(err, &protoErr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
