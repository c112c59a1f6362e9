// Package sparseindex implements a memory-mapped sparse offset→position
// index: a 24-byte row (offset+position+length+checksum) admitted only
// every sparseInterval offsets, so a full scan of a segment's store never
// needs to start further back than that interval.
package sparseindex

import (
	"encoding/binary"
	"os"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/record"
	"github.com/tysonmote/gommap"
)

const (
	offsetWidth   = 8
	positionWidth = 8
	lengthWidth   = 4
	checksumWidth = 4
	// RowWidth is the fixed on-disk size of one index row.
	RowWidth = offsetWidth + positionWidth + lengthWidth + checksumWidth
)

var enc = binary.BigEndian

// DefaultSparseInterval is the default gap between indexed offsets.
const DefaultSparseInterval = 1000

// Entry is one sparse index row.
type Entry struct {
	Offset   uint64
	Position uint64
	Length   uint32
	Checksum uint32
}

// SparseIndex is a memory-mapped, append-only sequence of Entry rows. A
// caller must call AddEntry in strictly increasing offset order; the index
// itself does not re-sort or de-duplicate.
type SparseIndex struct {
	file    *os.File
	mmap    gommap.MMap
	size    uint64 // bytes currently holding valid rows
	cap     uint64 // bytes the mmap region was truncated/sized to
	entries uint64

	sparseInterval uint64
	lastIndexed    int64 // -1 until the first entry is admitted
	highest        uint64
}

// Open opens or creates path, truncates it to capacityBytes (rounded down
// to a whole number of rows) so it can be mmapped, and replays existing
// rows to recompute entryCount/currentSize/highestIndexed. Replay stops at
// the first structurally truncated row or the first row whose offset is
// lower than the previous row's, treating the remainder as torn write.
// Rows are not otherwise validated: a row of zeros following an entry
// for offset 0 is replayed as another entry.
func Open(path string, capacityBytes uint64, sparseInterval uint64) (*SparseIndex, error) {
	if sparseInterval == 0 {
		sparseInterval = DefaultSparseInterval
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, brokererr.IO(err, "open index file %q", path)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, brokererr.IO(err, "stat index file %q", path)
	}

	existingSize := uint64(fi.Size())
	capRows := capacityBytes / RowWidth
	if capRows == 0 {
		capRows = 1
	}
	capBytes := capRows * RowWidth
	if capBytes < existingSize {
		// Never shrink below what's already on disk; replay will trim it.
		capBytes = ((existingSize / RowWidth) + 1) * RowWidth
	}

	if err := os.Truncate(path, int64(capBytes)); err != nil {
		_ = f.Close()
		return nil, brokererr.IO(err, "truncate index file %q", path)
	}

	mm, err := gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, brokererr.IO(err, "mmap index file %q", path)
	}

	idx := &SparseIndex{
		file:           f,
		mmap:           mm,
		cap:            capBytes,
		sparseInterval: sparseInterval,
		lastIndexed:    -1,
	}

	if err := idx.replay(existingSize); err != nil {
		_ = idx.Close()
		return nil, err
	}

	return idx, nil
}

// replay recomputes size/entries/highest/lastIndexed from the rows present
// up to declaredSize, stopping (truncating logically) at the first
// structurally incomplete row.
func (idx *SparseIndex) replay(declaredSize uint64) error {
	var pos uint64
	for pos+RowWidth <= declaredSize && pos+RowWidth <= idx.cap {
		row := idx.mmap[pos : pos+RowWidth]
		e := decodeRow(row)

		if idx.entries > 0 && e.Offset < idx.highest {
			// Offsets must be non-decreasing; anything else marks the
			// start of a torn/garbage tail.
			break
		}

		idx.highest = e.Offset
		idx.lastIndexed = int64(e.Offset)
		idx.entries++
		pos += RowWidth
	}
	idx.size = pos
	return nil
}

// AddEntry admits (offset, position, length, checksum) per the sparse
// indexing rule:
//
//	offset == 0 || offset % sparseInterval == 0 || offset > lastIndexed+sparseInterval
//
// Any other offset is silently dropped (not an error).
func (idx *SparseIndex) AddEntry(offset, position uint64, length, checksum uint32) error {
	if !idx.admits(offset) {
		return nil
	}

	if idx.size+RowWidth > idx.cap {
		return brokererr.Full("sparse index at capacity (%d bytes)", idx.cap)
	}

	row := idx.mmap[idx.size : idx.size+RowWidth]
	encodeRow(row, Entry{Offset: offset, Position: position, Length: length, Checksum: checksum})

	if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
		return brokererr.IO(err, "sync index mmap")
	}

	idx.size += RowWidth
	idx.entries++
	idx.lastIndexed = int64(offset)
	idx.highest = offset
	return nil
}

// HasCapacityFor reports whether AddEntry could admit an entry at offset
// without exceeding the mmap region's capacity. An offset the sparse
// interval rule would not admit anyway always reports true, since
// AddEntry would silently drop it rather than write a row.
func (idx *SparseIndex) HasCapacityFor(offset uint64) bool {
	if !idx.admits(offset) {
		return true
	}
	return idx.size+RowWidth <= idx.cap
}

func (idx *SparseIndex) admits(offset uint64) bool {
	if offset == 0 {
		return true
	}
	if offset%idx.sparseInterval == 0 {
		return true
	}
	return idx.lastIndexed >= 0 && offset > uint64(idx.lastIndexed)+idx.sparseInterval
}

// FindClosestIndex returns the greatest indexed entry whose offset is <=
// target, via binary search. ok is false iff the index is empty.
func (idx *SparseIndex) FindClosestIndex(target uint64) (entry Entry, ok bool) {
	n := idx.entries
	if n == 0 {
		return Entry{}, false
	}

	lo, hi := uint64(0), n-1
	var best int64 = -1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		e := idx.rowAt(mid)
		if e.Offset <= target {
			best = int64(mid)
			if mid == n-1 {
				break
			}
			lo = mid + 1
		} else {
			if mid == 0 {
				break
			}
			hi = mid - 1
		}
	}

	if best < 0 {
		return Entry{}, false
	}
	return idx.rowAt(uint64(best)), true
}

func (idx *SparseIndex) rowAt(i uint64) Entry {
	pos := i * RowWidth
	return decodeRow(idx.mmap[pos : pos+RowWidth])
}

// TruncateToValidStore drops trailing rows whose frame (position, length)
// would read past maxStoreSize. It is used during segment recovery when
// the store was truncated for a torn write but the index had already
// recorded an entry for it.
func (idx *SparseIndex) TruncateToValidStore(maxStoreSize uint64) error {
	for idx.entries > 0 {
		last := idx.rowAt(idx.entries - 1)
		if last.Position+uint64(record.HeaderSize)+uint64(last.Length) <= maxStoreSize {
			break
		}
		idx.entries--
		idx.size -= RowWidth
	}

	if idx.entries == 0 {
		idx.lastIndexed = -1
		idx.highest = 0
		return nil
	}
	last := idx.rowAt(idx.entries - 1)
	idx.lastIndexed = int64(last.Offset)
	idx.highest = last.Offset
	return nil
}

// EntryCount returns the number of admitted rows.
func (idx *SparseIndex) EntryCount() uint64 {
	return idx.entries
}

// HighestOffset returns the offset of the last admitted row. Only
// meaningful when EntryCount() > 0.
func (idx *SparseIndex) HighestOffset() uint64 {
	return idx.highest
}

// Close syncs the mmap, fsyncs the file, truncates it to its logical size,
// and closes it. Safe to call more than once.
func (idx *SparseIndex) Close() error {
	if idx.mmap != nil {
		if err := idx.mmap.Sync(gommap.MS_SYNC); err != nil {
			return brokererr.IO(err, "sync index mmap on close")
		}
		idx.mmap = nil
	}
	if idx.file != nil {
		if err := idx.file.Sync(); err != nil {
			return brokererr.IO(err, "fsync index file")
		}
		if err := idx.file.Truncate(int64(idx.size)); err != nil {
			return brokererr.IO(err, "truncate index file")
		}
		err := idx.file.Close()
		idx.file = nil
		if err != nil {
			return brokererr.IO(err, "close index file")
		}
	}
	return nil
}

// Name returns the path of the underlying file.
func (idx *SparseIndex) Name() string {
	return idx.file.Name()
}

func decodeRow(row []byte) Entry {
	return Entry{
		Offset:   enc.Uint64(row[0:8]),
		Position: enc.Uint64(row[8:16]),
		Length:   enc.Uint32(row[16:20]),
		Checksum: enc.Uint32(row[20:24]),
	}
}

func encodeRow(row []byte, e Entry) {
	enc.PutUint64(row[0:8], e.Offset)
	enc.PutUint64(row[8:16], e.Position)
	enc.PutUint32(row[16:20], e.Length)
	enc.PutUint32(row[20:24], e.Checksum)
}
