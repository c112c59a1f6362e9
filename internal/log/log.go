// Package log implements a topic's ordered collection of segments: disk
// recovery, offset-routed reads, rotation on write, and retention sweeps.
package log

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/record"
	"github.com/ndungu/logbroker/internal/segment"
	"github.com/ndungu/logbroker/internal/store"
	"go.uber.org/zap"
)

// Config fixes a topic's segment sizing, flush policy, and retention.
type Config struct {
	MaxSegmentBytes uint64
	MaxIndexBytes   uint64
	SparseInterval  uint64
	Flush           store.FlushConfig
	RetentionMs     uint64
	InitialOffset   uint64
}

// Log is the topic-level orchestrator: segment lifecycle, recovery,
// rotation, retention, and offset-routed reads.
type Log struct {
	mu     sync.RWMutex
	dir    string
	cfg    Config
	active *segment.Segment
	// segments is kept sorted by startOffset ascending; active is always
	// segments[len(segments)-1].
	segments []*segment.Segment

	logger *zap.Logger
}

// Open creates dir if missing, recovers every existing segment from its
// on-disk files, and makes the one with the greatest startOffset active.
// If dir is empty, a single segment starting at cfg.InitialOffset is
// created.
func Open(dir string, cfg Config) (*Log, error) {
	if cfg.MaxSegmentBytes == 0 {
		cfg.MaxSegmentBytes = 1024
	}
	if cfg.MaxIndexBytes == 0 {
		cfg.MaxIndexBytes = 1024
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, brokererr.IO(err, "create log directory %q", dir)
	}

	l := &Log{
		dir:    dir,
		cfg:    cfg,
		logger: zap.L().Named("log").With(zap.String("dir", dir)),
	}

	if err := l.setup(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) setup() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return brokererr.IO(err, "read log directory %q", l.dir)
	}

	seen := make(map[uint64]bool)
	var starts []uint64
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".log" && ext != ".index" {
			continue
		}
		base := strings.TrimSuffix(name, ext)
		off, perr := strconv.ParseUint(base, 10, 64)
		if perr != nil {
			continue
		}
		if !seen[off] {
			seen[off] = true
			starts = append(starts, off)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	for _, off := range starts {
		if err := l.openSegment(off); err != nil {
			return err
		}
	}

	if l.segments == nil {
		if err := l.openSegment(l.cfg.InitialOffset); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) openSegment(startOffset uint64) error {
	s, err := segment.Open(l.dir, startOffset, segment.Config{
		MaxStoreBytes:  l.cfg.MaxSegmentBytes,
		MaxIndexBytes:  l.cfg.MaxIndexBytes,
		SparseInterval: l.cfg.SparseInterval,
		Flush:          l.cfg.Flush,
	})
	if err != nil {
		return err
	}
	l.segments = append(l.segments, s)
	l.active = s
	return nil
}

// Append assigns the next sequential offset and writes data to the
// active segment, rotating to a fresh segment first if the active one
// is already full. Segment.IsFull covers both reasons a segment can
// stop accepting writes — its store reaching maxSize or its sparse
// index running out of room for the next offset — so rotation always
// targets the actual cause instead of retrying blindly on any Full.
func (l *Log) Append(data []byte) (uint64, error) {
	active, err := l.rotateIfFull()
	if err != nil {
		return 0, err
	}

	rec, err := active.Append(data)
	if err != nil {
		if kind, ok := brokererr.KindOf(err); ok && kind == brokererr.KindFull {
			// active.Append never wrote a frame here (appendAt checks
			// IsFull before touching the store), so retrying is safe:
			// no offset has been consumed yet. rotateIfFull re-checks
			// active.IsFull(), which is already true for whichever
			// reason caused this Full, so it always rotates to a new
			// segment rather than re-attempting the same one.
			active, err = l.rotateIfFull()
			if err != nil {
				return 0, err
			}
			rec, err = active.Append(data)
		}
		if err != nil {
			return 0, err
		}
	}
	return rec.Offset, nil
}

// AppendAt writes data at a caller-chosen offset, which must be >= the
// active segment's NextOffset(). Rotation happens the same way Append's
// does.
func (l *Log) AppendAt(offset uint64, data []byte) (uint64, error) {
	active, err := l.rotateIfFull()
	if err != nil {
		return 0, err
	}

	rec, err := active.AppendAt(offset, data)
	if err != nil {
		return 0, err
	}
	return rec.Offset, nil
}

// rotateIfFull returns the current active segment, rotating to a new one
// first if the active segment has reached its size limit.
func (l *Log) rotateIfFull() (*segment.Segment, error) {
	l.mu.RLock()
	active := l.active
	full := active.IsFull()
	l.mu.RUnlock()

	if !full {
		return active, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != active {
		// Someone else already rotated past this segment.
		return l.active, nil
	}
	if err := l.openSegment(active.NextOffset()); err != nil {
		return nil, err
	}
	return l.active, nil
}

// Read retrieves the record at off, or brokererr.NotFound if off is
// outside every segment's range.
func (l *Log) Read(off uint64) (record.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.findSegment(off)
	if s == nil {
		return record.Record{}, brokererr.NotFound("offset %d out of range", off)
	}

	rec, ok, err := s.Read(off)
	if err != nil {
		return record.Record{}, err
	}
	if !ok {
		return record.Record{}, brokererr.NotFound("offset %d out of range", off)
	}
	return rec, nil
}

// findSegment returns the segment whose range [StartOffset, NextOffset)
// contains off, or nil. Callers must hold l.mu. l.segments is always kept
// sorted ascending by StartOffset (segments are only ever appended in
// offset order and retention trimming preserves that order), so the
// search is a binary search over the start offsets rather than a scan.
func (l *Log) findSegment(off uint64) *segment.Segment {
	n := len(l.segments)
	i := sort.Search(n, func(i int) bool {
		return l.segments[i].StartOffset() > off
	})
	if i == 0 {
		return nil
	}
	s := l.segments[i-1]
	if off < s.NextOffset() {
		return s
	}
	return nil
}

// LowestOffset returns the smallest offset still present in the log.
func (l *Log) LowestOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.segments) == 0 {
		return 0
	}
	return l.segments[0].StartOffset()
}

// HighestOffset returns the greatest offset written so far, or 0 if the
// log is empty.
func (l *Log) HighestOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	next := l.active.NextOffset()
	if next == 0 {
		return 0
	}
	return next - 1
}

// SegmentCount returns the number of segments currently on disk.
func (l *Log) SegmentCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

// Sweep deletes every non-active segment whose store file's
// last-modified time is older than cfg.RetentionMs. Failures to delete
// an individual segment are logged and skipped, not returned, matching
// the fire-and-forget nature of a background retention pass.
func (l *Log) Sweep() {
	if l.cfg.RetentionMs == 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(l.cfg.RetentionMs) * time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.segments[:0:0]
	for _, s := range l.segments {
		if s == l.active {
			kept = append(kept, s)
			continue
		}
		mt, err := s.ModTime()
		if err != nil {
			l.logger.Warn("retention: stat failed, keeping segment", zap.Error(err))
			kept = append(kept, s)
			continue
		}
		if mt.After(cutoff) {
			kept = append(kept, s)
			continue
		}
		if err := s.Remove(); err != nil {
			l.logger.Warn("retention: delete failed, keeping segment", zap.Error(err))
			kept = append(kept, s)
			continue
		}
		l.logger.Info("retention: removed expired segment", zap.Uint64("startOffset", s.StartOffset()))
	}
	l.segments = kept
}

// Flush forces every segment's store to disk.
func (l *Log) Flush() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.segments {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every segment. A second call returns nil, since each
// segment's store and index ignore a repeated Close.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.segments {
		if err := s.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Remove closes the log and deletes its directory.
func (l *Log) Remove() error {
	if err := l.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return brokererr.IO(err, "remove log directory %q", l.dir)
	}
	return nil
}
