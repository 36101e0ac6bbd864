package client_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-kv/rust-kv/internal/client"
	"github.com/rust-kv/rust-kv/internal/kverrors"
	"github.com/rust-kv/rust-kv/internal/kvlog"
	"github.com/rust-kv/rust-kv/internal/server"
	"github.com/rust-kv/rust-kv/internal/workerpool"
)

type memEngine struct {
	data map[string]string
}

func (e *memEngine) Set(key, value []byte) error {
	e.data[string(key)] = string(value)
	return nil
}

func (e *memEngine) Get(key []byte) ([]byte, bool, error) {
	v, ok := e.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (e *memEngine) Rm(key []byte) error {
	if _, ok := e.data[string(key)]; !ok {
		return kverrors.ErrKeyNotFound
	}
	delete(e.data, string(key))
	return nil
}

func startServer(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	eng := &memEngine{data: make(map[string]string)}
	srv := server.New(eng, workerpool.NewNaive(), server.WithLogger(kvlog.Discard()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)

	return ln.Addr().String(), func() { srv.Close() }
}

func TestClientSetGetRemove(t *testing.T) {
	addr, closeFn := startServer(t)
	defer closeFn()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("a", "1"))

	value, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", value)

	require.NoError(t, c.Remove("a"))

	_, ok, err = c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientRemoveMissingKeyWrapsErrKeyNotFound(t *testing.T) {
	addr, closeFn := startServer(t)
	defer closeFn()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.Remove("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, kverrors.ErrKeyNotFound))
}

func TestClientDialUnreachableFails(t *testing.T) {
	conn, err := net.Dial("tcp", "127.0.0.1:1")
	if err == nil {
		conn.Close()
		t.Skip("port 1 unexpectedly reachable in this environment")
	}
	_, err = client.Dial("127.0.0.1:1")
	assert.Error(t, err)
}

func TestClientSequentialRoundTripsUnderTimeout(t *testing.T) {
	addr, closeFn := startServer(t)
	defer closeFn()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			assert.NoError(t, c.Set("k", "v"))
			_, _, err := c.Get("k")
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for round trips")
	}
}
