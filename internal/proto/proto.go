// Package proto implements the wire protocol between kvs-client and
// kvs-server: newline-free, length-delimited JSON frames, the Go
// analogue of the original implementation's tokio_util
// LengthDelimitedCodec plus tokio_serde JSON framing (original_source's
// src/server.rs and src/client.rs).
//
// Every frame is a 4-byte big-endian length prefix followed by exactly
// that many bytes of JSON payload. There is no compression or
// multiplexing: one request per frame, one response per frame, in
// order, on a single TCP connection per client.
package proto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload so a corrupt or
// malicious length prefix can't force an unbounded allocation.
const MaxFrameSize = 8 * 1024 * 1024

// Op names the operation a Request carries.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpRemove Op = "remove"
)

// Request is one client operation, framed and sent as JSON.
type Request struct {
	Op    Op     `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// Status discriminates a successful Response from a failed one.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"

	// StatusNotFound marks a Remove of an absent key. It is distinct
	// from StatusError: the key genuinely doesn't exist, which is not
	// an I/O or protocol failure.
	StatusNotFound Status = "not_found"
)

// Response is the server's reply to one Request.
//
// Found is only meaningful for a successful Get: it distinguishes a
// hit with an empty-string value from a miss, since Value alone can't.
type Response struct {
	Status Status `json:"status"`
	Value  string `json:"value,omitempty"`
	Found  bool   `json:"found,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WriteFrame writes payload to w prefixed with its big-endian uint32
// length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("proto: frame of %d bytes exceeds max %d", len(payload), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("proto: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("proto: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("proto: frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("proto: read frame payload: %w", err)
	}
	return payload, nil
}

// WriteRequest marshals req to JSON and writes it as one frame.
func WriteRequest(w io.Writer, req Request) error {
	buf, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("proto: marshal request: %w", err)
	}
	return WriteFrame(w, buf)
}

// ReadRequest reads one frame from r and unmarshals it as a Request.
func ReadRequest(r io.Reader) (Request, error) {
	buf, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(buf, &req); err != nil {
		return Request{}, fmt.Errorf("proto: unmarshal request: %w", err)
	}
	return req, nil
}

// WriteResponse marshals resp to JSON and writes it as one frame.
func WriteResponse(w io.Writer, resp Response) error {
	buf, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("proto: marshal response: %w", err)
	}
	return WriteFrame(w, buf)
}

// ReadResponse reads one frame from r and unmarshals it as a Response.
func ReadResponse(r io.Reader) (Response, error) {
	buf, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(buf, &resp); err != nil {
		return Response{}, fmt.Errorf("proto: unmarshal response: %w", err)
	}
	return resp, nil
}
