package registry_test

import (
	"testing"

	"github.com/ndungu/logbroker/internal/log"
	"github.com/ndungu/logbroker/internal/registry"
	"github.com/ndungu/logbroker/internal/store"
	"github.com/stretchr/testify/require"
)

func testCfg() log.Config {
	return log.Config{
		MaxSegmentBytes: 1024,
		MaxIndexBytes:   1024,
		SparseInterval:  4,
		Flush:           store.FlushConfig{Strategy: store.Immediate, ForceMetadata: true},
	}
}

func TestValidateNameRules(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"orders", true},
		{"orders-v2", true},
		{"orders_v2", true},
		{"", false},
		{"has a space", false},
		{"__reserved", false},
		{"bad/slash", false},
	}
	for _, c := range cases {
		err := registry.ValidateName(c.name)
		if c.valid {
			require.NoError(t, err, c.name)
		} else {
			require.Error(t, err, c.name)
		}
	}
}

func TestGetOrCreateReturnsSameLogForSameName(t *testing.T) {
	r := registry.New(t.TempDir(), testCfg())
	defer r.Close()

	l1, err := r.GetOrCreate("orders")
	require.NoError(t, err)
	l2, err := r.GetOrCreate("orders")
	require.NoError(t, err)
	require.Same(t, l1, l2)
}

func TestGetOrCreateRejectsInvalidName(t *testing.T) {
	r := registry.New(t.TempDir(), testCfg())
	defer r.Close()

	_, err := r.GetOrCreate("__internal")
	require.Error(t, err)
}

func TestListReturnsSortedTopicNames(t *testing.T) {
	r := registry.New(t.TempDir(), testCfg())
	defer r.Close()

	_, err := r.GetOrCreate("zebra")
	require.NoError(t, err)
	_, err = r.GetOrCreate("apple")
	require.NoError(t, err)

	require.Equal(t, []string{"apple", "zebra"}, r.List())
}

func TestDeleteRemovesTopicAndAllowsRecreate(t *testing.T) {
	r := registry.New(t.TempDir(), testCfg())
	defer r.Close()

	l1, err := r.GetOrCreate("orders")
	require.NoError(t, err)
	_, err = l1.Append([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, r.Delete("orders"))
	_, err = r.Get("orders")
	require.Error(t, err)

	l2, err := r.GetOrCreate("orders")
	require.NoError(t, err)
	require.Equal(t, uint64(0), l2.HighestOffset())
}

func TestGetOrCreateIsConcurrencySafe(t *testing.T) {
	r := registry.New(t.TempDir(), testCfg())
	defer r.Close()

	const n = 16
	results := make(chan *log.Log, n)
	for i := 0; i < n; i++ {
		go func() {
			l, err := r.GetOrCreate("shared")
			require.NoError(t, err)
			results <- l
		}()
	}

	first := <-results
	for i := 1; i < n; i++ {
		require.Same(t, first, <-results)
	}
}

func TestCreateRejectsExistingTopic(t *testing.T) {
	r := registry.New(t.TempDir(), testCfg())
	defer r.Close()

	_, err := r.Create("orders")
	require.NoError(t, err)

	_, err = r.Create("orders")
	require.Error(t, err)
}

func TestCreateIsAtomicUnderConcurrency(t *testing.T) {
	r := registry.New(t.TempDir(), testCfg())
	defer r.Close()

	const n = 16
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := r.Create("orders")
			results <- err
		}()
	}

	successes := 0
	for i := 0; i < n; i++ {
		if err := <-results; err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)
}
