// Package metrics tracks the broker-wide counters the GET /metrics
// surface reports, backed by Prometheus counters registered on a
// private registry so the same numbers could also be exposed on a
// promhttp-compatible endpoint.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the broker's counters and the registry they live on.
type Metrics struct {
	Registry *prometheus.Registry

	ProducerMessages  prometheus.Counter
	ConsumerMessages  prometheus.Counter
	ProcessedRequests prometheus.Counter
	Errors            prometheus.Counter
}

// New creates a Metrics instance on a fresh, private registry so tests
// can construct as many independent instances as they need.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ProducerMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "logbroker_producer_messages_total",
			Help: "Total number of messages published.",
		}),
		ConsumerMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "logbroker_consumer_messages_total",
			Help: "Total number of messages consumed.",
		}),
		ProcessedRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "logbroker_processed_requests_total",
			Help: "Total number of requests handled by a processor, not counting metrics reads or requests rejected for an expired deadline.",
		}),
		Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "logbroker_errors_total",
			Help: "Total number of requests that ended in an error response.",
		}),
	}
}

// Snapshot is the JSON-serializable view of the counters returned by
// GET /metrics.
type Snapshot struct {
	ProducerMessages  float64 `json:"producerMessages"`
	ConsumerMessages  float64 `json:"consumerMessages"`
	ProcessedRequests float64 `json:"processedRequests"`
	ErrorCount        float64 `json:"errorCount"`
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ProducerMessages:  readCounter(m.ProducerMessages),
		ConsumerMessages:  readCounter(m.ConsumerMessages),
		ProcessedRequests: readCounter(m.ProcessedRequests),
		ErrorCount:        readCounter(m.Errors),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
