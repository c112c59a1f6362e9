package metrics_test

import (
	"testing"

	"github.com/ndungu/logbroker/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsIncrements(t *testing.T) {
	m := metrics.New()

	m.ProducerMessages.Add(3)
	m.ConsumerMessages.Inc()
	m.ProcessedRequests.Add(4)
	m.Errors.Inc()

	snap := m.Snapshot()
	require.Equal(t, float64(3), snap.ProducerMessages)
	require.Equal(t, float64(1), snap.ConsumerMessages)
	require.Equal(t, float64(4), snap.ProcessedRequests)
	require.Equal(t, float64(1), snap.ErrorCount)
}

func TestNewInstancesAreIndependent(t *testing.T) {
	a := metrics.New()
	b := metrics.New()

	a.ProducerMessages.Inc()

	require.Equal(t, float64(1), a.Snapshot().ProducerMessages)
	require.Equal(t, float64(0), b.Snapshot().ProducerMessages)
}
