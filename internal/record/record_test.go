package record

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-kv/rust-kv/internal/kverrors"
)

func TestEncodeDecodePut(t *testing.T) {
	buf := EncodePut([]byte("name"), []byte("ccl"))

	rec, valOff, valLen, err := DecodeNext(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, TagPut, rec.Tag)
	assert.Equal(t, []byte("name"), rec.Key)
	assert.Equal(t, []byte("ccl"), rec.Value)
	assert.EqualValues(t, len("ccl"), valLen)
	assert.EqualValues(t, ValueHeaderSize(len("name")), valOff)
}

func TestEncodeDecodeRemove(t *testing.T) {
	buf := EncodeRemove([]byte("name"))

	rec, valOff, valLen, err := DecodeNext(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, TagRemove, rec.Tag)
	assert.Equal(t, []byte("name"), rec.Key)
	assert.Zero(t, valOff)
	assert.Zero(t, valLen)
}

func TestDecodeNextEndOfSegment(t *testing.T) {
	_, _, _, err := DecodeNext(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEndOfSegment)
}

func TestDecodeNextTruncated(t *testing.T) {
	buf := EncodePut([]byte("k"), []byte("v"))
	truncated := buf[:len(buf)-1]

	_, _, _, err := DecodeNext(bytes.NewReader(truncated))
	assert.True(t, errors.Is(err, kverrors.ErrCorrupt))
}

func TestDecodeNextChecksumMismatch(t *testing.T) {
	buf := EncodePut([]byte("k"), []byte("v"))
	buf[len(buf)-1] ^= 0xFF // flip every bit of the CRC's last byte

	_, _, _, err := DecodeNext(bytes.NewReader(buf))
	assert.True(t, errors.Is(err, kverrors.ErrCorrupt))
}

func TestDecodeNextMultipleRecords(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodePut([]byte("a"), []byte("1")))
	buf.Write(EncodeRemove([]byte("a")))
	buf.Write(EncodePut([]byte("b"), []byte("2")))

	r := bytes.NewReader(buf.Bytes())

	rec1, _, _, err := DecodeNext(r)
	require.NoError(t, err)
	assert.Equal(t, TagPut, rec1.Tag)

	rec2, _, _, err := DecodeNext(r)
	require.NoError(t, err)
	assert.Equal(t, TagRemove, rec2.Tag)

	rec3, _, _, err := DecodeNext(r)
	require.NoError(t, err)
	assert.Equal(t, TagPut, rec3.Tag)
	assert.Equal(t, []byte("b"), rec3.Key)

	_, _, _, err = DecodeNext(r)
	assert.ErrorIs(t, err, ErrEndOfSegment)
}

func TestEncodedLenMatchesActual(t *testing.T) {
	key, val := []byte("somewhat-longer-key"), []byte("a value with some bytes")
	assert.EqualValues(t, len(EncodePut(key, val)), EncodedLen(key, val))
	assert.EqualValues(t, len(EncodeRemove(key)), EncodedRemoveLen(key))
}
