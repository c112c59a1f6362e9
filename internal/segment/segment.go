// Package segment binds one store.Store and one sparseindex.SparseIndex,
// assigns record offsets, and implements the sparse-index scan-forward
// read algorithm: jump to the closest indexed offset, then scan forward
// record by record to the target.
package segment

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/record"
	"github.com/ndungu/logbroker/internal/sparseindex"
	"github.com/ndungu/logbroker/internal/store"
	"go.uber.org/zap"
)

// FilenameDigits is the zero-padded width of a segment's filename.
const FilenameDigits = 20

// Config configures a Segment's Store and SparseIndex.
type Config struct {
	MaxStoreBytes  uint64
	MaxIndexBytes  uint64
	SparseInterval uint64
	Flush          store.FlushConfig
}

// Segment is the unit the Log rotates: one store file plus one sparse
// index file, both named by the segment's startOffset.
type Segment struct {
	dir         string
	startOffset uint64
	nextOffset  uint64
	maxSize     uint64

	store *store.Store
	index *sparseindex.SparseIndex

	logger *zap.Logger
}

// StorePath returns the conventional path of a segment's store file.
func StorePath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%0*d.log", FilenameDigits, startOffset))
}

// IndexPath returns the conventional path of a segment's index file.
func IndexPath(dir string, startOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%0*d.index", FilenameDigits, startOffset))
}

// Open creates (if absent) and opens the store and index files for
// startOffset, then recovers nextOffset by combining the sparse index's
// highest entry with a forward scan to the true end of the store. Any
// torn trailing frame found during that scan is truncated away and the
// index is trimmed to match.
func Open(dir string, startOffset uint64, cfg Config) (*Segment, error) {
	logger := zap.L().Named("segment").With(zap.Uint64("startOffset", startOffset))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, brokererr.IO(err, "create segment directory %q", dir)
	}

	st, err := store.Open(StorePath(dir, startOffset), cfg.Flush)
	if err != nil {
		return nil, err
	}

	idx, err := sparseindex.Open(IndexPath(dir, startOffset), cfg.MaxIndexBytes, cfg.SparseInterval)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	s := &Segment{
		dir:         dir,
		startOffset: startOffset,
		maxSize:     cfg.MaxStoreBytes,
		store:       st,
		index:       idx,
		logger:      logger,
	}

	if err := s.recoverNextOffset(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// recoverNextOffset walks forward from the sparse index's highest entry
// (or the start of the store, if the index is empty) to the true end of
// the store, truncating a torn trailing frame if one is found.
func (s *Segment) recoverNextOffset() error {
	var pos uint64
	off := s.startOffset

	if entry, ok := s.index.FindClosestIndex(^uint64(0)); ok {
		pos = entry.Position
		off = entry.Offset
	}

	for {
		rec, ok, err := s.store.Read(pos, off)
		if err != nil {
			kind, _ := brokererr.KindOf(err)
			if kind == brokererr.KindCorrupt || kind == brokererr.KindIO {
				s.logger.Warn("truncating torn trailing frame during recovery",
					zap.Uint64("position", pos), zap.Error(err))
				if terr := s.store.TruncateTo(pos); terr != nil {
					return terr
				}
				if terr := s.index.TruncateToValidStore(pos); terr != nil {
					return terr
				}
				break
			}
			return err
		}
		if !ok {
			break
		}
		pos += uint64(record.FrameSize(len(rec.Data)))
		off = rec.Offset + 1
	}

	s.nextOffset = off
	return nil
}

// Append assigns the next sequential offset to data, writes it to the
// store, and offers it to the sparse index (which may silently drop an
// offset the sparse interval rule doesn't admit). It returns
// brokererr.Full if the segment's store or index is already full; the
// store write and index admission happen atomically for a given
// offset, so a Full from the index can never leave a written-but-
// unindexed frame behind.
func (s *Segment) Append(data []byte) (record.Record, error) {
	return s.appendAt(s.nextOffset, data, true)
}

// AppendAt writes data at caller-chosen offset, used for recovery/replay
// or externally numbered appends. offset must be >= nextOffset.
func (s *Segment) AppendAt(offset uint64, data []byte) (record.Record, error) {
	if offset < s.nextOffset {
		return record.Record{}, brokererr.InvalidArgument(
			"offset %d precedes segment's next offset %d", offset, s.nextOffset)
	}
	return s.appendAt(offset, data, false)
}

func (s *Segment) appendAt(offset uint64, data []byte, advanceSequentially bool) (record.Record, error) {
	if s.IsFull() {
		return record.Record{}, brokererr.Full("segment %d is full", s.startOffset)
	}
	if !s.index.HasCapacityFor(offset) {
		return record.Record{}, brokererr.Full("segment %d index is full", s.startOffset)
	}

	r := record.Record{
		Offset:    offset,
		Timestamp: uint64(time.Now().UnixMilli()),
		Data:      data,
		Checksum:  crc32.ChecksumIEEE(data),
	}

	pos, err := s.store.Append(r)
	if err != nil {
		return record.Record{}, err
	}

	if err := s.index.AddEntry(offset, pos, uint32(len(data)), r.Checksum); err != nil {
		// The frame is on disk but unindexed and unassigned; cut it back
		// off the store so a later append can't leave an orphan frame
		// sitting between nextOffset's old and new positions.
		if terr := s.store.TruncateTo(pos); terr != nil {
			s.logger.Warn("failed to roll back store after index append failure",
				zap.Uint64("position", pos), zap.Error(terr))
		}
		return record.Record{}, err
	}

	if advanceSequentially {
		s.nextOffset = offset + 1
	} else if offset+1 > s.nextOffset {
		s.nextOffset = offset + 1
	}

	return r, nil
}

// Read performs the sparse-index lookup plus scan-forward algorithm.
// ok is false when targetOffset is not present.
func (s *Segment) Read(targetOffset uint64) (rec record.Record, ok bool, err error) {
	var pos, off uint64
	startEntry, found := s.index.FindClosestIndex(targetOffset)
	if !found {
		// No indexed entry at or below targetOffset: the records before
		// the segment's first admitted offset are reached by scanning
		// from the start of the store.
		if targetOffset < s.startOffset {
			return record.Record{}, false, nil
		}
		pos, off = 0, s.startOffset
	} else {
		if startEntry.Offset == targetOffset {
			return s.store.Read(startEntry.Position, targetOffset)
		}
		pos = startEntry.Position + uint64(record.HeaderSize) + uint64(startEntry.Length)
		off = startEntry.Offset + 1
	}

	for off <= targetOffset {
		rec, ok, err := s.store.Read(pos, off)
		if err != nil {
			return record.Record{}, false, err
		}
		if !ok {
			return record.Record{}, false, nil
		}
		if rec.Offset > targetOffset {
			return record.Record{}, false, nil
		}
		if rec.Offset == targetOffset {
			return rec, true, nil
		}
		pos += uint64(record.FrameSize(len(rec.Data)))
		off++
	}
	return record.Record{}, false, nil
}

// ReadRaw is Read, returning just the payload.
func (s *Segment) ReadRaw(targetOffset uint64) ([]byte, bool, error) {
	rec, ok, err := s.Read(targetOffset)
	if err != nil || !ok {
		return nil, ok, err
	}
	return rec.Data, true, nil
}

// IsFull reports whether the store has reached its configured maximum
// size, or the sparse index has no room left for the entry the next
// sequential append would offer it. Either condition means the segment
// can accept no further writes and the Log must rotate. A record may
// straddle the store's size limit; after that append, IsFull becomes
// true and the Log rotates before the next append.
func (s *Segment) IsFull() bool {
	return s.store.Size() >= s.maxSize || !s.index.HasCapacityFor(s.nextOffset)
}

// Size returns the segment store's current size in bytes.
func (s *Segment) Size() uint64 {
	return s.store.Size()
}

// StartOffset returns the offset this segment's filenames are keyed on.
func (s *Segment) StartOffset() uint64 {
	return s.startOffset
}

// NextOffset returns one past the highest offset written to this segment.
func (s *Segment) NextOffset() uint64 {
	return s.nextOffset
}

// GetRecordCount returns the number of sparsely indexed entries, not the
// total number of records in the segment.
func (s *Segment) GetRecordCount() uint64 {
	return s.index.EntryCount()
}

// ModTime returns the store file's last-modified time, used by Log's
// retention sweep.
func (s *Segment) ModTime() (time.Time, error) {
	fi, err := os.Stat(s.store.Name())
	if err != nil {
		return time.Time{}, brokererr.IO(err, "stat segment store")
	}
	return fi.ModTime(), nil
}

// Flush forces the store to disk. The index is fsynced on every AddEntry
// already, so nothing else needs flushing.
func (s *Segment) Flush() error {
	return s.store.Force()
}

// Close closes the index then the store.
func (s *Segment) Close() error {
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.store.Close()
}

// Remove closes then deletes both of the segment's files.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(StorePath(s.dir, s.startOffset)); err != nil && !os.IsNotExist(err) {
		return brokererr.IO(err, "remove segment store")
	}
	if err := os.Remove(IndexPath(s.dir, s.startOffset)); err != nil && !os.IsNotExist(err) {
		return brokererr.IO(err, "remove segment index")
	}
	return nil
}
