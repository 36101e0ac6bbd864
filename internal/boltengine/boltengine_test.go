package boltengine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-kv/rust-kv/internal/kverrors"
)

func TestSetGetRm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bolt.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	v, ok, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	require.NoError(t, s.Rm([]byte("a")))
	_, ok, err = s.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRmMissingKeyReturnsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bolt.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	err = s.Rm([]byte("nope"))
	assert.ErrorIs(t, err, kverrors.ErrKeyNotFound)
}

func TestReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bolt.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, ok, err := s2.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))
}
