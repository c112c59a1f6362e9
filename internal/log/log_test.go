package log_test

import (
	"fmt"
	"testing"

	"github.com/ndungu/logbroker/internal/log"
	"github.com/ndungu/logbroker/internal/store"
	"github.com/stretchr/testify/require"
)

func testConfig() log.Config {
	return log.Config{
		MaxSegmentBytes: 1024,
		MaxIndexBytes:   4096,
		SparseInterval:  4,
		Flush:           store.FlushConfig{Strategy: store.Immediate, ForceMetadata: true},
	}
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	l, err := log.Open(t.TempDir(), testConfig())
	require.NoError(t, err)
	defer l.Close()

	off, err := l.Append([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)

	rec, err := l.Read(off)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), rec.Data)
}

func TestReadOutOfRangeReturnsNotFound(t *testing.T) {
	l, err := log.Open(t.TempDir(), testConfig())
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Read(12345)
	require.Error(t, err)
}

// TestRotationCreatesMultipleSegments exercises the rotation invariant:
// with a small MaxSegmentBytes, many appends must span more than one
// segment while remaining fully readable by offset.
func TestRotationCreatesMultipleSegments(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentBytes = 1024
	l, err := log.Open(t.TempDir(), cfg)
	require.NoError(t, err)
	defer l.Close()

	payload := make([]byte, 64)
	for i := 0; i < 100; i++ {
		_, err := l.Append(payload)
		require.NoError(t, err)
	}

	require.GreaterOrEqual(t, l.SegmentCount(), 2)

	rec, err := l.Read(99)
	require.NoError(t, err)
	require.Equal(t, uint64(99), rec.Offset)
}

func TestReopenRecoversSegmentsAndOffsets(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.MaxSegmentBytes = 256

	l, err := log.Open(dir, cfg)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		_, err := l.Append([]byte(fmt.Sprintf("msg-%02d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	reopened, err := log.Open(dir, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(19), reopened.HighestOffset())
	rec, err := reopened.Read(10)
	require.NoError(t, err)
	require.Equal(t, []byte("msg-10"), rec.Data)
}

func TestSweepNeverRemovesActiveSegment(t *testing.T) {
	cfg := testConfig()
	cfg.RetentionMs = 1 // expires almost immediately
	l, err := log.Open(t.TempDir(), cfg)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append([]byte("x"))
	require.NoError(t, err)

	l.Sweep()
	require.Equal(t, 1, l.SegmentCount())

	_, err = l.Read(0)
	require.NoError(t, err)
}

func TestSweepRemovesExpiredNonActiveSegments(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentBytes = 128
	cfg.RetentionMs = 1
	l, err := log.Open(t.TempDir(), cfg)
	require.NoError(t, err)
	defer l.Close()

	payload := make([]byte, 64)
	for i := 0; i < 20; i++ {
		_, err := l.Append(payload)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, l.SegmentCount(), 2)

	before := l.SegmentCount()
	l.Sweep()
	require.Less(t, l.SegmentCount(), before)
}
