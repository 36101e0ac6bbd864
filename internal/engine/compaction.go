package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rust-kv/rust-kv/internal/compactor"
	"github.com/rust-kv/rust-kv/internal/config"
	"github.com/rust-kv/rust-kv/internal/index"
	"github.com/rust-kv/rust-kv/internal/kverrors"
	"github.com/rust-kv/rust-kv/internal/metrics"
	"github.com/rust-kv/rust-kv/internal/segment"
)

var _ compactor.Host = (*Engine)(nil)

// Dir implements compactor.Host.
func (e *Engine) Dir() string { return e.dir }

// Config implements compactor.Host.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// Logger implements compactor.Host.
func (e *Engine) Logger() *logrus.Logger { return e.log }

// Metrics implements compactor.Host.
func (e *Engine) Metrics() *metrics.Engine { return e.metric }

// Index implements compactor.Host.
func (e *Engine) Index() *index.Index { return e.idx }

// ImmutableSegmentIDs implements compactor.Host. The active segment
// (open for append) is excluded: spec.md §4.5 step 1 requires the
// active segment never be compacted.
func (e *Engine) ImmutableSegmentIDs() []uint64 {
	e.mu.Lock()
	activeID := e.active.ID
	e.mu.Unlock()

	e.readersMu.RLock()
	defer e.readersMu.RUnlock()
	ids := make([]uint64, 0, len(e.readers))
	for id := range e.readers {
		if id == activeID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// AcquireSegment implements compactor.Host.
func (e *Engine) AcquireSegment(id uint64) (*segment.Segment, func(), error) {
	return e.acquireSegment(id)
}

// ReserveSegmentID implements compactor.Host. It draws from the same
// counter rollover uses, so an id handed to the compactor can never
// be reused by a later active-segment rollover.
func (e *Engine) ReserveSegmentID() uint64 {
	return e.nextID.Add(1) - 1
}

// PublishCompactedSegment implements compactor.Host: it reopens the
// finished output file read-only and adds it to the immutable reader
// set so Gets can resolve the locations the compactor just wrote.
func (e *Engine) PublishCompactedSegment(id uint64) error {
	ro, err := segment.OpenReadOnly(e.dir, id)
	if err != nil {
		return err
	}
	e.readersMu.Lock()
	e.readers[id] = ro
	e.readersMu.Unlock()
	e.metric.SegmentCount.Set(float64(len(e.readers)))
	return nil
}

// DeleteSegmentIfUnreferenced implements compactor.Host.
func (e *Engine) DeleteSegmentIfUnreferenced(id uint64) error {
	for _, entry := range e.idx.Snapshot() {
		if entry.Loc.SegmentID == id {
			return nil // still live; a concurrent writer won the race
		}
	}

	e.refsMu.Lock()
	refs := e.refs[id]
	e.refsMu.Unlock()
	if refs > 0 {
		return nil // an in-flight Get still holds this segment open
	}

	e.readersMu.Lock()
	seg, ok := e.readers[id]
	if ok {
		delete(e.readers, id)
	}
	e.readersMu.Unlock()
	if !ok {
		return nil
	}

	if err := seg.Close(); err != nil {
		e.log.Warnf("engine: close segment %d before delete: %v", id, err)
	}
	if err := segment.Remove(e.dir, id); err != nil {
		return err
	}
	e.metric.SegmentCount.Set(float64(len(e.readers)))
	return nil
}

// maybeTriggerCompaction signals the compactor if the heuristic from
// spec.md §4.4/§9 fires. The send is non-blocking and coalesced: a
// pending, not-yet-consumed signal means a trigger is already queued.
// Caller must hold e.mu.
func (e *Engine) maybeTriggerCompaction() {
	// e.readers also holds the active segment's read handle, which is
	// not immutable.
	e.readersMu.RLock()
	immutableCount := len(e.readers) - 1
	e.readersMu.RUnlock()

	live := e.liveBytes.Load()
	dead := e.deadBytes.Load()

	overSegments := immutableCount >= e.cfg.CompactionSegmentThreshold
	overDeadRatio := live > 0 && float64(dead) >= e.cfg.CompactionDeadByteRatio*float64(live)

	if !overSegments && !overDeadRatio {
		return
	}
	select {
	case e.compactSig <- struct{}{}:
	default:
	}
}

// runCompactor is the compactor's long-lived goroutine, woken by
// compactSig and shut down when ctx is cancelled (spec.md §9's
// "wakeup signal + shutdown channel" design).
func (e *Engine) runCompactor(ctx context.Context) {
	defer close(e.compactDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.compactSig:
			if err := compactor.Run(e); err != nil {
				e.log.Errorf("engine: compaction pass failed: %v", err)
			}
			e.metric.LiveBytes.Set(float64(e.liveBytes.Load()))
			e.metric.DeadBytes.Set(float64(e.deadBytes.Load()))
		}
	}
}

// CompactNow synchronously triggers and waits for one compaction
// pass to complete, or for ctx to be cancelled. It exists for tests
// and the kvs-bench tool, per spec.md §8 scenarios 3 and 6, which need
// to force compaction deterministically rather than wait for the
// heuristic.
func (e *Engine) CompactNow(ctx context.Context) error {
	if e.closed.Load() {
		return kverrors.ErrClosed
	}
	done := make(chan error, 1)
	go func() {
		done <- compactor.Run(e)
	}()
	select {
	case err := <-done:
		if err == nil {
			e.metric.LiveBytes.Set(float64(e.liveBytes.Load()))
			e.metric.DeadBytes.Set(float64(e.deadBytes.Load()))
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("engine: compact now: %w", ctx.Err())
	}
}
