// Command broker runs the log-storage HTTP broker: it loads a named
// environment's configuration, wires the storage engine to the request
// pipeline and HTTP surface, and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ndungu/logbroker/internal/config"
	"github.com/ndungu/logbroker/internal/httpapi"
	"github.com/ndungu/logbroker/internal/log"
	"github.com/ndungu/logbroker/internal/metrics"
	"github.com/ndungu/logbroker/internal/pipeline"
	"github.com/ndungu/logbroker/internal/processor"
	"github.com/ndungu/logbroker/internal/registry"
	"go.uber.org/zap"
)

func main() {
	env := flag.String("env", "dev", "named configuration environment to load (dev, prod, or a custom name)")
	flag.Parse()

	b, err := newBroker(*env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "broker: startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "broker: %v\n", err)
		os.Exit(1)
	}
}

// broker holds every component main wires together: logger, storage,
// pipeline, and HTTP transport, in that dependency order.
type broker struct {
	cfg config.Config

	registry  *registry.Registry
	metrics   *metrics.Metrics
	requests  *pipeline.RequestChannel
	responses *pipeline.ResponseChannel
	orch      *pipeline.Orchestrator
	sender    *pipeline.ResponseSender
	httpSrv   *http.Server

	logger *zap.Logger

	shutdownOnce sync.Once
}

// newBroker runs each setup step in sequence: a missing or invalid step
// fails startup immediately rather than leaving partial state to be
// torn down by the caller.
func newBroker(env string) (*broker, error) {
	b := &broker{}

	setups := []func(env string) error{
		b.setupLogger,
		b.setupConfig,
		b.setupStorage,
		b.setupPipeline,
		b.setupHTTP,
	}
	for _, setup := range setups {
		if err := setup(env); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *broker) setupLogger(env string) error {
	newLogger := zap.NewDevelopment
	if env == "prod" {
		newLogger = zap.NewProduction
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	b.logger = logger.Named("broker")
	return nil
}

func (b *broker) setupConfig(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return err
	}
	b.cfg = cfg
	return nil
}

func (b *broker) setupStorage(string) error {
	flushCfg, err := b.cfg.Flush.ToStoreFlushConfig()
	if err != nil {
		return err
	}

	logCfg := log.Config{
		MaxSegmentBytes: b.cfg.Storage.MaxSegmentSize,
		MaxIndexBytes:   b.cfg.Storage.MaxIndexSize,
		SparseInterval:  b.cfg.Storage.SparseInterval,
		Flush:           flushCfg,
		RetentionMs:     b.cfg.Storage.RetentionMs,
	}

	b.registry = registry.New(b.cfg.DataDirectory, logCfg)
	b.metrics = metrics.New()
	return nil
}

func (b *broker) setupPipeline(string) error {
	b.requests = pipeline.NewRequestChannel(b.cfg.Pipeline.RequestChannelSize)
	b.responses = pipeline.NewResponseChannel(b.cfg.Pipeline.ResponseChannelSize)

	engine := &processor.Engine{Registry: b.registry, Metrics: b.metrics}
	b.orch = pipeline.NewOrchestrator(b.requests, b.responses, engine.Table())
	b.sender = pipeline.NewResponseSender(b.responses)
	return nil
}

func (b *broker) setupHTTP(string) error {
	submitTimeout := time.Duration(b.cfg.Pipeline.SubmitTimeoutMs) * time.Millisecond
	maxMessageSize := int64(b.cfg.Storage.MaxMessageSize)

	handler := httpapi.New(b.requests, submitTimeout, maxMessageSize, b.metrics.Registry)
	b.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", b.cfg.Server.Port),
		Handler: handler,
	}
	return nil
}

// run starts the pipeline workers, the retention sweeper, and the HTTP
// listener, then blocks until ctx is cancelled (SIGINT/SIGTERM) and
// performs a staged shutdown.
func (b *broker) run(ctx context.Context) error {
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	defer cancelPipeline()

	go b.orch.Run(pipelineCtx, b.cfg.Pipeline.OrchestratorWorkers)
	go b.sender.Run(pipelineCtx, b.cfg.Pipeline.ResponseSenderWorkers)
	go b.runRetentionSweeper(pipelineCtx)

	serveErr := make(chan error, 1)
	go func() {
		b.logger.Info("listening", zap.String("addr", b.httpSrv.Addr))
		if err := b.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		return b.shutdown(cancelPipeline)
	case err := <-serveErr:
		if err != nil {
			_ = b.shutdown(cancelPipeline)
			return err
		}
		return b.shutdown(cancelPipeline)
	}
}

func (b *broker) runRetentionSweeper(ctx context.Context) {
	if b.cfg.Storage.RetentionMs == 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.registry.Sweep()
		}
	}
}

// shutdown closes the HTTP listener, stops accepting new pipeline
// submissions, cancels the workers, and flushes and closes every topic's
// Log. Runs its steps once, guarded by shutdownOnce, so it is safe to
// call from both the signal path and an HTTP listener failure.
func (b *broker) shutdown(cancelPipeline context.CancelFunc) error {
	var shutdownErr error
	b.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		steps := []func() error{
			func() error { return b.httpSrv.Shutdown(ctx) },
			func() error { b.requests.Close(); return nil },
			func() error { cancelPipeline(); return nil },
			func() error { return b.registry.Close() },
		}
		for _, step := range steps {
			if err := step(); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}
