package proto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Op: OpSet, Key: "a", Value: "1"}
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	resp := Response{Status: StatusOK, Found: true, Value: "1"}
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestMultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, Request{Op: OpGet, Key: "a"}))
	require.NoError(t, WriteRequest(&buf, Request{Op: OpRemove, Key: "b"}))

	first, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpGet, first.Op)

	second, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpRemove, second.Op)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameSize+1))
	assert.Error(t, err)

	_, err = ReadFrame(strings.NewReader(string([]byte{0x7f, 0xff, 0xff, 0xff})))
	assert.Error(t, err)
}

func TestReadFrameTruncatedErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	truncated := buf.Bytes()[:5]

	_, err := ReadFrame(bytes.NewReader(truncated))
	assert.Error(t, err)
}
