// Package segment implements the append-only segment file described
// in spec.md §4.2: one numbered file, opened either for append or for
// read-only positional access.
package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/rust-kv/rust-kv/internal/kverrors"
	"github.com/rust-kv/rust-kv/internal/record"
)

// NamePattern matches segment file names of the form "<id>.log".
var NamePattern = regexp.MustCompile(`^(\d+)\.log$`)

// Path returns the conventional file path for segment id within dir.
func Path(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.log", id))
}

// ParseID extracts the segment id from a file name matching
// NamePattern. It returns false if name does not match.
func ParseID(name string) (uint64, bool) {
	m := NamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Segment wraps one on-disk log file plus its current size. A
// Segment is either open for append (Writable) or read-only; the
// engine is responsible for never calling Append concurrently with
// ReadAt on the same active segment without its own synchronization,
// per spec.md §4.2.
type Segment struct {
	ID       uint64
	path     string
	file     *os.File
	size     atomic.Int64
	writable bool
}

// OpenForAppend opens (creating if necessary) segment id in dir for
// appending. size reflects the file's current length, so reopening an
// existing segment resumes at the correct offset.
func OpenForAppend(dir string, id uint64) (*Segment, error) {
	path := Path(dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open for append %s: %w", path, wrapIO(err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment: stat %s: %w", path, wrapIO(err))
	}
	s := &Segment{ID: id, path: path, file: f, writable: true}
	s.size.Store(info.Size())
	return s, nil
}

// OpenReadOnly opens segment id in dir for positional reads only.
func OpenReadOnly(dir string, id uint64) (*Segment, error) {
	path := Path(dir, id)
	f, err := os.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("segment: open read-only %s: %w", path, wrapIO(err))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("segment: stat %s: %w", path, wrapIO(err))
	}
	s := &Segment{ID: id, path: path, file: f}
	s.size.Store(info.Size())
	return s, nil
}

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

// Size returns the segment's current byte length.
func (s *Segment) Size() int64 { return s.size.Load() }

// Append writes buf contiguously to the end of the segment and
// returns the offset at which the write began. Appends are atomic at
// the record level: either the whole buffer lands, or the write
// failed and the segment must be treated as poisoned by the caller
// (spec.md §4.6).
func (s *Segment) Append(buf []byte) (int64, error) {
	if !s.writable {
		return 0, fmt.Errorf("segment: %d not writable", s.ID)
	}
	start := s.size.Load()
	n, err := s.file.Write(buf)
	if err != nil {
		// Partial write: advance size by what actually landed so a
		// subsequent recovery scan sees the true file length.
		s.size.Add(int64(n))
		return 0, fmt.Errorf("segment: append to %s: %w", s.path, wrapIO(err))
	}
	s.size.Add(int64(n))
	return start, nil
}

// ReadAt performs a positional read of length bytes starting at
// offset. It may be called concurrently with any other ReadAt on the
// same segment.
func (s *Segment) ReadAt(offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && int64(n) == length) {
		return nil, fmt.Errorf("segment: read %s at %d: %w", s.path, offset, wrapIO(err))
	}
	return buf, nil
}

// Sync flushes buffered writes to the OS. Called on rollover and on
// engine close; per-record fsync is not required (spec.md §4.2).
func (s *Segment) Sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("segment: sync %s: %w", s.path, wrapIO(err))
	}
	return nil
}

// Close releases the segment's file handle.
func (s *Segment) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("segment: close %s: %w", s.path, wrapIO(err))
	}
	return nil
}

// Item is one record yielded by Iterate.
type Item struct {
	Record      record.Record
	StartOffset int64
	ValueOffset int64 // file-absolute offset of the value payload (Put only)
	ValueLength int64
}

// Iterate returns a function that, called repeatedly, yields each
// record in the segment in order. It stops at the first corrupt
// record and reports its byte offset via lastGoodOffset so the caller
// can truncate. Returns (Item{}, false, lastGoodOffset, err) on the
// terminal call; err is nil on a clean end of segment.
func (s *Segment) Iterate() func() (Item, bool, int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return func() (Item, bool, int64, error) {
			return Item{}, false, 0, fmt.Errorf("segment: reopen %s: %w", s.path, wrapIO(err))
		}
	}
	var offset int64
	closed := false
	return func() (Item, bool, int64, error) {
		if closed {
			return Item{}, false, offset, nil
		}
		rec, valOffRel, valLen, err := record.DecodeNext(f)
		if err != nil {
			f.Close()
			closed = true
			if err == record.ErrEndOfSegment {
				return Item{}, false, offset, nil
			}
			return Item{}, false, offset, err
		}
		start := offset
		var valOffAbs int64
		if rec.Tag == record.TagPut {
			valOffAbs = start + valOffRel
		}
		advanced := record.EncodedLen(rec.Key, rec.Value)
		if rec.Tag != record.TagPut {
			advanced = record.EncodedRemoveLen(rec.Key)
		}
		offset += advanced
		return Item{
			Record:      rec,
			StartOffset: start,
			ValueOffset: valOffAbs,
			ValueLength: valLen,
		}, true, offset, nil
	}
}

// Truncate shrinks the segment file on disk to n bytes. Used during
// recovery to drop a trailing corrupt record.
func Truncate(dir string, id uint64, n int64) error {
	path := Path(dir, id)
	if err := os.Truncate(path, n); err != nil {
		return fmt.Errorf("segment: truncate %s: %w", path, wrapIO(err))
	}
	return nil
}

// Remove deletes the segment's file from disk.
func Remove(dir string, id uint64) error {
	path := Path(dir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("segment: remove %s: %w", path, wrapIO(err))
	}
	return nil
}

func wrapIO(err error) error {
	return fmt.Errorf("%w: %s", kverrors.ErrIO, err)
}
