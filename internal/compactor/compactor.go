// Package compactor implements the background compaction pass
// described in spec.md §4.5: rewrite immutable segments into fresh
// merged segments retaining only live values, swap the index over to
// the new locations, and delete the old files once they are provably
// unreferenced.
//
// The compactor never takes the engine's write lock. It coordinates
// exclusively through the index's ReplaceIfEqual and through the
// Host's segment reference counting, so a concurrent foreground Set
// or Rm always wins a race with compaction (spec.md §4.5's
// correctness rationale).
package compactor

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rust-kv/rust-kv/internal/config"
	"github.com/rust-kv/rust-kv/internal/index"
	"github.com/rust-kv/rust-kv/internal/metrics"
	"github.com/rust-kv/rust-kv/internal/record"
	"github.com/rust-kv/rust-kv/internal/segment"
)

// Host is the engine-provided interface the compactor needs to run a
// pass. It deliberately exposes no write-lock-taking operation:
// everything here either reads, or mutates the index conditionally.
type Host interface {
	Dir() string
	Config() config.EngineConfig
	Logger() *logrus.Logger
	Metrics() *metrics.Engine
	Index() *index.Index

	// ImmutableSegmentIDs returns the ids of all non-active segments
	// at the moment of the call — the snapshot S of spec.md §4.5 step 1.
	ImmutableSegmentIDs() []uint64

	// AcquireSegment returns a handle (and a release func) to read
	// from segment id, active or immutable, with reference counting.
	AcquireSegment(id uint64) (*segment.Segment, func(), error)

	// ReserveSegmentID returns a fresh id strictly greater than every
	// id issued so far (including ones the active writer might use on
	// its own next rollover), satisfying spec.md §4.5 step 2.
	ReserveSegmentID() uint64

	// PublishCompactedSegment hands a finished output segment's file
	// over to the host as a new immutable, readable segment.
	PublishCompactedSegment(id uint64) error

	// DeleteSegmentIfUnreferenced removes segment id's file if no
	// index entry points at it and no in-flight Get still holds it,
	// per spec.md §4.5 step 4. It is a no-op, not an error, if the
	// segment is still referenced.
	DeleteSegmentIfUnreferenced(id uint64) error
}

// Run executes one compaction pass against host. It is safe to call
// repeatedly; triggers that arrive while a pass is running are the
// caller's responsibility to coalesce (the engine's single-slot
// wakeup channel does this).
func Run(host Host) error {
	sources := host.ImmutableSegmentIDs()
	if len(sources) == 0 {
		return nil
	}
	inSources := make(map[uint64]bool, len(sources))
	for _, id := range sources {
		inSources[id] = true
	}

	log := host.Logger()
	cfg := host.Config()

	outID := host.ReserveSegmentID()
	out, err := segment.OpenForAppend(host.Dir(), outID)
	if err != nil {
		return fmt.Errorf("compactor: open output segment %d: %w", outID, err)
	}
	published := false
	defer func() {
		if !published {
			out.Close()
			_ = segment.Remove(host.Dir(), outID)
		}
	}()

	entries := host.Index().Snapshot()
	for _, entry := range entries {
		if !inSources[entry.Loc.SegmentID] {
			continue
		}

		if out.Size() >= cfg.SegmentBytes {
			if err := out.Sync(); err != nil {
				log.Warnf("compactor: sync output segment %d: %v", outID, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("compactor: close output segment %d: %w", outID, err)
			}
			if err := host.PublishCompactedSegment(outID); err != nil {
				return fmt.Errorf("compactor: publish output segment %d: %w", outID, err)
			}
			published = true

			outID = host.ReserveSegmentID()
			out, err = segment.OpenForAppend(host.Dir(), outID)
			if err != nil {
				return fmt.Errorf("compactor: open output segment %d: %w", outID, err)
			}
			published = false
		}

		if err := migrateOne(host, out, outID, entry); err != nil {
			log.Warnf("compactor: migrate key failed, skipping: %v", err)
			continue
		}
	}

	if err := out.Sync(); err != nil {
		log.Warnf("compactor: sync output segment %d: %v", outID, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("compactor: close output segment %d: %w", outID, err)
	}
	if err := host.PublishCompactedSegment(outID); err != nil {
		return fmt.Errorf("compactor: publish output segment %d: %w", outID, err)
	}
	published = true

	for _, id := range sources {
		if err := host.DeleteSegmentIfUnreferenced(id); err != nil {
			log.Warnf("compactor: delete old segment %d: %v", id, err)
		}
	}

	host.Metrics().CompactionTotal.Inc()
	return nil
}

// migrateOne reads entry's value from its source segment and appends
// a fresh Put to out, then tries to redirect the index to the new
// location. If the index no longer matches entry.Loc (a concurrent
// foreground write superseded it), the freshly written bytes are left
// as dead weight in out — acceptable per spec.md §4.5 step 3c.
func migrateOne(host Host, out *segment.Segment, outID uint64, entry index.Entry) error {
	src, release, err := host.AcquireSegment(entry.Loc.SegmentID)
	if err != nil {
		return err
	}
	defer release()

	value, err := src.ReadAt(entry.Loc.ValueOffset, entry.Loc.ValueLength)
	if err != nil {
		return err
	}

	buf := record.EncodePut([]byte(entry.Key), value)
	start, err := out.Append(buf)
	if err != nil {
		return err
	}
	valueOffset := start + record.ValueHeaderSize(len(entry.Key))
	newLoc := index.Location{SegmentID: outID, ValueOffset: valueOffset, ValueLength: int64(len(value))}

	host.Index().ReplaceIfEqual(entry.Key, entry.Loc, newLoc)
	return nil
}
