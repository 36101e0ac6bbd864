// Package client implements the TCP client library for the wire
// protocol in internal/proto, the Go analogue of original_source's
// src/client.rs KvClient.
package client

import (
	"fmt"
	"net"
	"sync"

	"github.com/rust-kv/rust-kv/internal/kverrors"
	"github.com/rust-kv/rust-kv/internal/proto"
)

// Client is a connection to a kvs-server, serializing requests over
// one TCP connection. It is safe for concurrent use: callers share
// the connection, and requests are sent and awaited one at a time.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to addr and returns a ready-to-use Client.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Get fetches key's value. The second return value reports whether
// the key was found.
func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.roundTrip(proto.Request{Op: proto.OpGet, Key: key})
	if err != nil {
		return "", false, err
	}
	if resp.Status == proto.StatusError {
		return "", false, fmt.Errorf("client: get %q: %s", key, resp.Error)
	}
	return resp.Value, resp.Found, nil
}

// Set stores value under key, overwriting any existing value.
func (c *Client) Set(key, value string) error {
	resp, err := c.roundTrip(proto.Request{Op: proto.OpSet, Key: key, Value: value})
	if err != nil {
		return err
	}
	if resp.Status == proto.StatusError {
		return fmt.Errorf("client: set %q: %s", key, resp.Error)
	}
	return nil
}

// Remove deletes key. Removing a key that doesn't exist returns an
// error wrapping kverrors.ErrKeyNotFound, distinguishable via
// errors.Is from a transport or server-side failure.
func (c *Client) Remove(key string) error {
	resp, err := c.roundTrip(proto.Request{Op: proto.OpRemove, Key: key})
	if err != nil {
		return err
	}
	switch resp.Status {
	case proto.StatusNotFound:
		return fmt.Errorf("client: remove %q: %w", key, kverrors.ErrKeyNotFound)
	case proto.StatusError:
		return fmt.Errorf("client: remove %q: %s", key, resp.Error)
	}
	return nil
}

func (c *Client) roundTrip(req proto.Request) (proto.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := proto.WriteRequest(c.conn, req); err != nil {
		return proto.Response{}, fmt.Errorf("client: send request: %w", err)
	}
	resp, err := proto.ReadResponse(c.conn)
	if err != nil {
		return proto.Response{}, fmt.Errorf("client: read response: %w", err)
	}
	return resp, nil
}
