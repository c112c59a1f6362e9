package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndungu/logbroker/internal/record"
	"github.com/ndungu/logbroker/internal/store"
	"github.com/stretchr/testify/require"
)

func tempStore(t *testing.T, cfg store.FlushConfig) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	s, err := store.Open(path, cfg)
	require.NoError(t, err)
	return s, path
}

// TestAppendReadRoundTrip exercises Store.Append and Store.Read under the
// Immediate flush policy, the store's strongest durability setting.
func TestAppendReadRoundTrip(t *testing.T) {
	s, _ := tempStore(t, store.FlushConfig{Strategy: store.Immediate, ForceMetadata: true})
	defer s.Close()

	r := record.Record{Timestamp: 1, Data: []byte("hello world")}
	pos, err := s.Append(r)
	require.NoError(t, err)
	require.Equal(t, uint64(0), pos)

	got, ok, err := s.Read(pos, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, r.Data, got.Data)
}

func TestReadPastEndReturnsNotOk(t *testing.T) {
	s, _ := tempStore(t, store.FlushConfig{Strategy: store.Immediate})
	defer s.Close()

	_, ok, err := s.Read(1000, 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMessageBasedFlushTriggersAtInterval(t *testing.T) {
	s, path := tempStore(t, store.FlushConfig{
		Strategy:        store.MessageBased,
		MessageInterval: 2,
		EnablePageCache: true,
	})
	defer s.Close()

	r := record.Record{Data: []byte("x")}
	_, err := s.Append(r)
	require.NoError(t, err)

	// Buffered writer means bytes may not have reached disk yet.
	_, err = s.Append(r)
	require.NoError(t, err)

	// After the second append, MessageInterval triggers a flush.
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(2*record.FrameSize(1)), fi.Size())
}

func TestTimeBasedFlushRequiresPositiveInterval(t *testing.T) {
	_, err := store.Open(filepath.Join(t.TempDir(), "t.log"), store.FlushConfig{Strategy: store.TimeBased})
	require.Error(t, err)
}

func TestHybridFlushOnMessageCount(t *testing.T) {
	s, path := tempStore(t, store.FlushConfig{
		Strategy:        store.Hybrid,
		MessageInterval: 1,
		TimeInterval:    time.Hour,
		EnablePageCache: true,
	})
	defer s.Close()

	_, err := s.Append(record.Record{Data: []byte("x")})
	require.NoError(t, err)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(record.FrameSize(1)), fi.Size())
}

func TestCloseFlushesBufferedPageCacheWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	s, err := store.Open(path, store.FlushConfig{Strategy: store.OSControlled, EnablePageCache: true})
	require.NoError(t, err)

	_, err = s.Append(record.Record{Data: []byte("buffered")})
	require.NoError(t, err)

	require.NoError(t, s.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(record.FrameSize(len("buffered"))), fi.Size())
}

func TestAppendAfterCloseIsClosedError(t *testing.T) {
	s, _ := tempStore(t, store.FlushConfig{Strategy: store.Immediate})
	require.NoError(t, s.Close())

	_, err := s.Append(record.Record{Data: []byte("x")})
	require.Error(t, err)
}

func TestReopenSeesExistingSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.log")
	s, err := store.Open(path, store.FlushConfig{Strategy: store.Immediate, ForceMetadata: true})
	require.NoError(t, err)

	_, err = s.Append(record.Record{Data: []byte("persisted")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := store.Open(path, store.FlushConfig{Strategy: store.Immediate})
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, uint64(record.FrameSize(len("persisted"))), reopened.Size())
}
