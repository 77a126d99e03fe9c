package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/gzip"
)

// Wire format: one JSON document per frame. A frame is an ASCII decimal
// byte count terminated by '\n' followed by exactly that many payload
// bytes, so terminator bytes inside compressed payloads never confuse
// the reader. Compressed payloads carry the marker prefix inside the
// frame.
const (
	compressMarker = "COMPRESSED:"
	maxFrameSize   = 16 << 20
)

// Request is a single JSON-RPC call document.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	SID     string         `json:"sid,omitempty"`
	TS      int64          `json:"ts,omitempty"`
	Auth    *Auth          `json:"auth,omitempty"`
}

// Auth carries password credentials inside a request.
type Auth struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

// Response is the server's reply to one Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      int64           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error object of a failed call.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// encodePayload serializes the request compactly and, when compression
// is on, gzips it — keeping the compressed form only if it is actually
// smaller.
func encodePayload(req *Request, compress bool) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if !compress {
		return data, nil
	}
	var buf bytes.Buffer
	buf.WriteString(compressMarker)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return data, nil
	}
	if err := zw.Close(); err != nil {
		return data, nil
	}
	if buf.Len() < len(data) {
		return buf.Bytes(), nil
	}
	return data, nil
}

// decodePayload strips the compression marker and inflates when
// present.
func decodePayload(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(compressMarker)) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data[len(compressMarker):]))
	if err != nil {
		return nil, &ProtocolError{Reason: "bad compressed payload", Err: err}
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, &ProtocolError{Reason: "decompress payload", Err: err}
	}
	return out, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	header := strconv.Itoa(len(payload)) + "\n"
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(header[:len(header)-1])
	if err != nil || size < 0 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("bad frame header %q", header)}
	}
	if size == 0 {
		return nil, &ProtocolError{Reason: "empty frame"}
	}
	if size > maxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame too large: %d", size)}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
