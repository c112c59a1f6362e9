package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/ndungu/logbroker/internal/httpapi"
	"github.com/ndungu/logbroker/internal/log"
	"github.com/ndungu/logbroker/internal/metrics"
	"github.com/ndungu/logbroker/internal/pipeline"
	"github.com/ndungu/logbroker/internal/processor"
	"github.com/ndungu/logbroker/internal/registry"
	"github.com/ndungu/logbroker/internal/store"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"
)

// testServer wires a full pipeline (requests -> orchestrator ->
// processors -> responses -> HTTP) and starts it on a free local port.
func testServer(t *testing.T) (baseURL string, stop func()) {
	t.Helper()

	cfg := log.Config{
		MaxSegmentBytes: 4096,
		MaxIndexBytes:   4096,
		SparseInterval:  4,
		Flush:           store.FlushConfig{Strategy: store.Immediate, ForceMetadata: true},
	}
	m := metrics.New()
	engine := &processor.Engine{
		Registry: registry.New(t.TempDir(), cfg),
		Metrics:  m,
	}

	requests := pipeline.NewRequestChannel(16)
	responses := pipeline.NewResponseChannel(16)
	orch := pipeline.NewOrchestrator(requests, responses, engine.Table())
	sender := pipeline.NewResponseSender(responses)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx, 2)
	go sender.Run(ctx, 2)

	srv := httpapi.New(requests, 2*time.Second, 1<<20, m.Registry)

	port := dynaport.Get(1)[0]
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{Addr: addr, Handler: srv}
	go httpSrv.ListenAndServe()

	// Give the listener a moment to bind.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := http.Get(fmt.Sprintf("http://%s/health", addr))
		if err == nil {
			conn.Body.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return fmt.Sprintf("http://%s", addr), func() {
		cancel()
		_ = httpSrv.Close()
	}
}

func TestHealthEndpoint(t *testing.T) {
	base, stop := testServer(t)
	defer stop()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPrometheusMetricsEndpointExposesCounters(t *testing.T) {
	base, stop := testServer(t)
	defer stop()

	createBody, _ := json.Marshal(map[string]string{"name": "orders"})
	resp, err := http.Post(base+"/topics", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(base + "/internal/metrics/prometheus")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "logbroker_processed_requests_total")
}

func TestCreatePublishConsumeFlow(t *testing.T) {
	base, stop := testServer(t)
	defer stop()

	createBody, _ := json.Marshal(map[string]string{"name": "orders"})
	resp, err := http.Post(base+"/topics", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	pubBody, _ := json.Marshal(map[string]string{"data": "hello"})
	resp, err = http.Post(base+"/topics/orders", "application/json", bytes.NewReader(pubBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pub struct {
		Offset uint64 `json:"offset"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pub))
	resp.Body.Close()
	require.Equal(t, uint64(0), pub.Offset)

	resp, err = http.Get(fmt.Sprintf("%s/topics/orders?offset=%d", base, pub.Offset))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Data string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "hello", got.Data)
}

func TestConsumeMissingTopicReturns404(t *testing.T) {
	base, stop := testServer(t)
	defer stop()

	resp, err := http.Get(base + "/topics/ghost?offset=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTopicRejectsBadName(t *testing.T) {
	base, stop := testServer(t)
	defer stop()

	body, _ := json.Marshal(map[string]string{"name": "__internal"})
	resp, err := http.Post(base+"/topics", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteTopicThenNotFound(t *testing.T) {
	base, stop := testServer(t)
	defer stop()

	createBody, _ := json.Marshal(map[string]string{"name": "orders"})
	resp, err := http.Post(base+"/topics", "application/json", bytes.NewReader(createBody))
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, base+"/topics/orders", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodDelete, base+"/topics/orders", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
