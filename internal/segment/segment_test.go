package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust-kv/rust-kv/internal/record"
)

func TestParseID(t *testing.T) {
	id, ok := ParseID("42.log")
	require.True(t, ok)
	assert.Equal(t, uint64(42), id)

	_, ok = ParseID("42.tmp")
	assert.False(t, ok)

	_, ok = ParseID("log")
	assert.False(t, ok)
}

func TestAppendAndReadAt(t *testing.T) {
	dir := t.TempDir()
	seg, err := OpenForAppend(dir, 0)
	require.NoError(t, err)
	defer seg.Close()

	buf := record.EncodePut([]byte("k"), []byte("value"))
	start, err := seg.Append(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(len(buf)), seg.Size())

	valOff := start + record.ValueHeaderSize(1)
	got, err := seg.ReadAt(valOff, 5)
	require.NoError(t, err)
	assert.Equal(t, "value", string(got))
}

func TestIterateYieldsRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	seg, err := OpenForAppend(dir, 0)
	require.NoError(t, err)

	_, err = seg.Append(record.EncodePut([]byte("a"), []byte("1")))
	require.NoError(t, err)
	_, err = seg.Append(record.EncodePut([]byte("b"), []byte("2")))
	require.NoError(t, err)
	_, err = seg.Append(record.EncodeRemove([]byte("a")))
	require.NoError(t, err)
	require.NoError(t, seg.Sync())
	require.NoError(t, seg.Close())

	ro, err := OpenReadOnly(dir, 0)
	require.NoError(t, err)
	defer ro.Close()

	next := ro.Iterate()
	var items []Item
	for {
		item, ok, _, err := next()
		require.NoError(t, err)
		if !ok {
			break
		}
		items = append(items, item)
	}
	require.Len(t, items, 3)
	assert.Equal(t, record.TagPut, items[0].Record.Tag)
	assert.Equal(t, "a", string(items[0].Record.Key))
	assert.Equal(t, record.TagPut, items[1].Record.Tag)
	assert.Equal(t, "b", string(items[1].Record.Key))
	assert.Equal(t, record.TagRemove, items[2].Record.Tag)
	assert.Equal(t, "a", string(items[2].Record.Key))
}

func TestIterateStopsAtCorruptTail(t *testing.T) {
	dir := t.TempDir()
	seg, err := OpenForAppend(dir, 0)
	require.NoError(t, err)

	_, err = seg.Append(record.EncodePut([]byte("a"), []byte("1")))
	require.NoError(t, err)
	goodEnd := seg.Size()

	_, err = seg.Append(record.EncodePut([]byte("b"), []byte("2")))
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	full := Path(dir, 0)
	require.NoError(t, os.Truncate(full, seg.Size()-2))

	ro, err := OpenReadOnly(dir, 0)
	require.NoError(t, err)
	defer ro.Close()

	next := ro.Iterate()
	item, ok, lastOffset, err := next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(item.Record.Key))

	_, ok, lastOffset, err = next()
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, goodEnd, lastOffset)
}

func TestTruncateAndRemove(t *testing.T) {
	dir := t.TempDir()
	seg, err := OpenForAppend(dir, 0)
	require.NoError(t, err)
	_, err = seg.Append(record.EncodePut([]byte("a"), []byte("1")))
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	require.NoError(t, Truncate(dir, 0, 3))
	info, err := os.Stat(Path(dir, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())

	require.NoError(t, Remove(dir, 0))
	_, err = os.Stat(filepath.Join(dir, "0.log"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Remove(dir, 0))
}

func TestOpenForAppendResumesAtExistingSize(t *testing.T) {
	dir := t.TempDir()
	seg, err := OpenForAppend(dir, 0)
	require.NoError(t, err)
	_, err = seg.Append(record.EncodePut([]byte("a"), []byte("1")))
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	reopened, err := OpenForAppend(dir, 0)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, seg.Size(), reopened.Size())

	start, err := reopened.Append(record.EncodePut([]byte("b"), []byte("2")))
	require.NoError(t, err)
	assert.Equal(t, seg.Size(), start)
}
