package index

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertGetRemove(t *testing.T) {
	idx := New()

	_, had := idx.Insert("a", Location{SegmentID: 1, ValueOffset: 10, ValueLength: 5})
	assert.False(t, had)

	loc, ok := idx.Get("a")
	assert.True(t, ok)
	assert.Equal(t, Location{SegmentID: 1, ValueOffset: 10, ValueLength: 5}, loc)

	prev, had := idx.Remove("a")
	assert.True(t, had)
	assert.Equal(t, loc, prev)

	_, ok = idx.Get("a")
	assert.False(t, ok)
}

func TestReplaceIfEqual(t *testing.T) {
	idx := New()
	orig := Location{SegmentID: 1, ValueOffset: 0, ValueLength: 5}
	idx.Insert("a", orig)

	newer := Location{SegmentID: 2, ValueOffset: 100, ValueLength: 5}
	assert.True(t, idx.ReplaceIfEqual("a", orig, newer))

	loc, _ := idx.Get("a")
	assert.Equal(t, newer, loc)

	// A stale expected value must fail — simulates compaction losing a race.
	assert.False(t, idx.ReplaceIfEqual("a", orig, Location{SegmentID: 3}))
}

func TestReplaceIfEqualMissingKey(t *testing.T) {
	idx := New()
	assert.False(t, idx.ReplaceIfEqual("missing", Location{}, Location{SegmentID: 1}))
}

func TestSnapshotUnderConcurrentMutation(t *testing.T) {
	idx := New()
	for i := 0; i < 1000; i++ {
		idx.Insert(fmt.Sprintf("k%d", i), Location{SegmentID: uint64(i)})
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				idx.Insert(fmt.Sprintf("k%d", i%1000), Location{SegmentID: uint64(i)})
			}
		}
	}()

	assert.NotPanics(t, func() {
		for i := 0; i < 50; i++ {
			idx.Snapshot()
		}
	})
	close(stop)
	wg.Wait()
}

func TestLenMatchesSnapshot(t *testing.T) {
	idx := New()
	for i := 0; i < 200; i++ {
		idx.Insert(fmt.Sprintf("k%d", i), Location{SegmentID: uint64(i)})
	}
	assert.Equal(t, 200, idx.Len())
	assert.Len(t, idx.Snapshot(), 200)
}
