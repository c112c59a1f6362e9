// Package store implements the append-only, length-framed data file that
// backs one segment of a topic's log: a single mutex around a
// bufio.Writer over an *os.File, with a configurable flush policy.
package store

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/record"
)

var enc = binary.BigEndian

// FlushStrategy selects when Append forces buffered writes to disk.
type FlushStrategy int

const (
	// Immediate flushes (and, if ForceMetadata, fsyncs) after every append.
	Immediate FlushStrategy = iota
	// MessageBased flushes once MessageInterval appends have accumulated
	// since the last flush.
	MessageBased
	// TimeBased flushes once TimeInterval has elapsed since the last flush.
	TimeBased
	// Hybrid flushes on whichever of MessageInterval or TimeInterval
	// triggers first.
	Hybrid
	// OSControlled never flushes explicitly; the OS page cache is relied
	// on until Close or Force is called.
	OSControlled
)

// FlushConfig is fixed for the lifetime of a Store.
//
// MessageInterval and TimeInterval are ignored by strategies that don't use
// that dimension — callers should leave them at their zero value rather
// than relying on a sentinel.
type FlushConfig struct {
	Strategy FlushStrategy
	// MessageInterval is the append count that triggers a flush under
	// MessageBased or Hybrid. Must be > 0 when those strategies are used.
	MessageInterval uint64
	// TimeInterval is the elapsed duration that triggers a flush under
	// TimeBased or Hybrid. Must be > 0 when those strategies are used.
	TimeInterval time.Duration
	// ForceMetadata additionally fsyncs file metadata (not just buffered
	// bytes) on every flush triggered by the policy and on Close/Force.
	ForceMetadata bool
	// EnablePageCache selects whether appends are staged through an
	// in-process bufio.Writer (true) or written straight through to the
	// file on every append (false).
	// Either way, an explicit Flush/Force is what moves bytes out of the
	// Go-level buffer; OS page cache behavior beyond that is left to the
	// kernel in both cases.
	EnablePageCache bool
}

// Validate checks the dimensions a configured strategy actually uses.
func (c FlushConfig) Validate() error {
	switch c.Strategy {
	case MessageBased:
		if c.MessageInterval == 0 {
			return brokererr.InvalidArgument("MessageBased flush strategy requires MessageInterval > 0")
		}
	case TimeBased:
		if c.TimeInterval <= 0 {
			return brokererr.InvalidArgument("TimeBased flush strategy requires TimeInterval > 0")
		}
	case Hybrid:
		if c.MessageInterval == 0 || c.TimeInterval <= 0 {
			return brokererr.InvalidArgument("Hybrid flush strategy requires both MessageInterval > 0 and TimeInterval > 0")
		}
	case Immediate, OSControlled:
		// no dimensions used
	default:
		return brokererr.InvalidArgument("unknown flush strategy %d", c.Strategy)
	}
	return nil
}

// Store is an append-only byte container for one segment's frames.
type Store struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	cfg    FlushConfig
	size   uint64
	closed bool

	messagesSinceFlush uint64
	lastFlush          time.Time
}

// Open creates path if it does not exist, opens it for read+write, and
// positions the logical append cursor at the file's current size.
func Open(path string, cfg FlushConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, brokererr.IO(err, "open store file %q", path)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, brokererr.IO(err, "stat store file %q", path)
	}

	s := &Store{
		file:      f,
		cfg:       cfg,
		size:      uint64(fi.Size()),
		lastFlush: time.Now(),
	}
	if cfg.EnablePageCache {
		s.buf = bufio.NewWriter(f)
	}
	return s, nil
}

// Append serializes r and writes the resulting frame, returning the
// position at which the frame starts. It flushes according to the
// configured FlushConfig.
func (s *Store) Append(r record.Record) (position uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, brokererr.Closed("append on closed store")
	}

	frame := record.Serialize(r)
	pos := s.size

	if s.buf != nil {
		if _, err := s.buf.Write(frame); err != nil {
			return 0, brokererr.IO(err, "append to store")
		}
	} else {
		if _, err := s.file.Write(frame); err != nil {
			return 0, brokererr.IO(err, "append to store")
		}
	}

	s.size += uint64(len(frame))
	s.messagesSinceFlush++

	if s.shouldFlushLocked() {
		if err := s.flushLocked(); err != nil {
			return 0, err
		}
	}

	return pos, nil
}

func (s *Store) shouldFlushLocked() bool {
	switch s.cfg.Strategy {
	case Immediate:
		return true
	case MessageBased:
		return s.messagesSinceFlush >= s.cfg.MessageInterval
	case TimeBased:
		return time.Since(s.lastFlush) >= s.cfg.TimeInterval
	case Hybrid:
		return s.messagesSinceFlush >= s.cfg.MessageInterval || time.Since(s.lastFlush) >= s.cfg.TimeInterval
	case OSControlled:
		return false
	default:
		return false
	}
}

// flushLocked moves buffered bytes out to the file and, if ForceMetadata is
// set, fsyncs. Callers must hold s.mu.
func (s *Store) flushLocked() error {
	if s.buf != nil {
		if err := s.buf.Flush(); err != nil {
			return brokererr.IO(err, "flush store buffer")
		}
	}
	if s.cfg.ForceMetadata {
		if err := s.file.Sync(); err != nil {
			return brokererr.IO(err, "fsync store file")
		}
	}
	s.messagesSinceFlush = 0
	s.lastFlush = time.Now()
	return nil
}

// TruncateTo discards everything from position onward. It is used during
// segment recovery to cut off a torn trailing frame left by a crash mid
// append. position must be <= the store's current size.
func (s *Store) TruncateTo(position uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return brokererr.Closed("truncate on closed store")
	}
	if position > s.size {
		return brokererr.InvalidArgument("truncate position %d beyond store size %d", position, s.size)
	}
	if s.buf != nil {
		s.buf.Reset(s.file)
	}
	if err := s.file.Truncate(int64(position)); err != nil {
		return brokererr.IO(err, "truncate store file to %d", position)
	}
	s.size = position
	return nil
}

// Force performs a synchronous flush and fsync regardless of policy.
func (s *Store) Force() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return brokererr.Closed("force on closed store")
	}
	if s.buf != nil {
		if err := s.buf.Flush(); err != nil {
			return brokererr.IO(err, "flush store buffer")
		}
	}
	if err := s.file.Sync(); err != nil {
		return brokererr.IO(err, "fsync store file")
	}
	s.messagesSinceFlush = 0
	s.lastFlush = time.Now()
	return nil
}

// Read reads one frame starting at position, constructing a Record with
// Offset=expectedOffset. It returns ok=false (no error) if position is at
// or past the store's current size.
func (s *Store) Read(position uint64, expectedOffset uint64) (rec record.Record, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return record.Record{}, false, brokererr.Closed("read on closed store")
	}
	if position >= s.size {
		return record.Record{}, false, nil
	}
	if err := s.flushForReadLocked(); err != nil {
		return record.Record{}, false, err
	}

	header := make([]byte, record.HeaderSize)
	if _, err := s.file.ReadAt(header, int64(position)); err != nil {
		return record.Record{}, false, brokererr.IO(err, "read frame header at %d", position)
	}

	length := enc.Uint32(header[0:4])
	frame := make([]byte, record.HeaderSize+int(length))
	copy(frame, header)
	if length > 0 {
		if _, err := s.file.ReadAt(frame[record.HeaderSize:], int64(position)+int64(record.HeaderSize)); err != nil {
			return record.Record{}, false, brokererr.IO(err, "read frame payload at %d", position)
		}
	}

	rec, err = record.Deserialize(frame, expectedOffset)
	if err != nil {
		return record.Record{}, false, err
	}
	return rec, true, nil
}

// ReadRaw returns just the payload bytes of the frame starting at position.
func (s *Store) ReadRaw(position uint64) ([]byte, error) {
	rec, ok, err := s.Read(position, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, brokererr.NotFound("no frame at position %d", position)
	}
	return rec.Data, nil
}

// flushForReadLocked ensures buffered-but-unwritten bytes are visible to
// ReadAt. Callers must hold s.mu.
func (s *Store) flushForReadLocked() error {
	if s.buf == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return brokererr.IO(err, "flush store buffer before read")
	}
	return nil
}

// Size returns the store's current logical size in bytes.
func (s *Store) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// CurrentPosition is an alias for Size: the byte offset the next Append
// will start at.
func (s *Store) CurrentPosition() uint64 {
	return s.Size()
}

// IsEmpty reports whether the store has never had a frame appended.
func (s *Store) IsEmpty() bool {
	return s.Size() == 0
}

// Close flushes and releases the underlying file. It is safe to call more
// than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.buf != nil {
		if err := s.buf.Flush(); err != nil {
			return brokererr.IO(err, "flush store buffer on close")
		}
	}
	if err := s.file.Sync(); err != nil {
		return brokererr.IO(err, "fsync store file on close")
	}
	return s.file.Close()
}

// Name returns the path of the underlying file.
func (s *Store) Name() string {
	return s.file.Name()
}
