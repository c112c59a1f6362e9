// Package pipeline implements the bounded request/response queues that
// decouple the HTTP transport from the storage engine, and the two
// worker pools that drain them: an orchestrator that dispatches requests
// to processors, and a response sender that completes reply sinks.
package pipeline

import (
	"context"
	"time"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestType tags an AsyncRequest so the orchestrator can dispatch it to
// the right Processor.
type RequestType int

const (
	Health RequestType = iota
	ListTopics
	CreateTopic
	DeleteTopic
	Publish
	Consume
	Metrics
)

func (t RequestType) String() string {
	switch t {
	case Health:
		return "Health"
	case ListTopics:
		return "ListTopics"
	case CreateTopic:
		return "CreateTopic"
	case DeleteTopic:
		return "DeleteTopic"
	case Publish:
		return "Publish"
	case Consume:
		return "Consume"
	case Metrics:
		return "Metrics"
	default:
		return "Unknown"
	}
}

// ReplySink is the capability an AsyncRequest carries to let a processor
// (via the response worker) complete the original caller's request. It
// is a capability, not ownership of the transport connection: HTTP
// handlers implement it by blocking on a channel of their own.
type ReplySink interface {
	Complete(resp AsyncResponse)
}

// AsyncRequest is one unit of work submitted to the RequestChannel.
type AsyncRequest struct {
	RequestID string
	Type      RequestType
	Payload   []byte
	ReplySink ReplySink
	Deadline  time.Time // zero means no deadline
}

// AsyncResponse is one unit of work submitted to the ResponseChannel.
type AsyncResponse struct {
	RequestID   string
	StatusCode  int
	ContentType string
	Body        []byte
	ReplySink   ReplySink
}

// NewRequestID generates a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// RequestChannel is a bounded, blocking FIFO queue of AsyncRequest.
type RequestChannel struct {
	ch chan AsyncRequest
}

// NewRequestChannel creates a RequestChannel with the given capacity.
func NewRequestChannel(capacity int) *RequestChannel {
	return &RequestChannel{ch: make(chan AsyncRequest, capacity)}
}

// Submit blocks until req is enqueued or ctx is done, whichever comes
// first; req.Deadline is not consulted here, so a submission timeout
// must be carried by ctx. A ctx cancellation or deadline expiry is
// reported as brokererr.Backpressure, and the HTTP layer answers any
// submission failure with a 503.
func (c *RequestChannel) Submit(ctx context.Context, req AsyncRequest) error {
	select {
	case c.ch <- req:
		return nil
	case <-ctx.Done():
		return brokererr.Backpressure("request channel full: %v", ctx.Err())
	}
}

// Take blocks until a request is available, the channel is closed and
// drained, or ctx is done. A closed, drained channel reports
// brokererr.Closed rather than a zero-value AsyncRequest, so a worker
// loop can tell "real request" from "nothing left to take" and stop
// instead of spinning on zero-value requests.
func (c *RequestChannel) Take(ctx context.Context) (AsyncRequest, error) {
	select {
	case req, ok := <-c.ch:
		if !ok {
			return AsyncRequest{}, brokererr.Closed("request channel closed")
		}
		return req, nil
	case <-ctx.Done():
		return AsyncRequest{}, ctx.Err()
	}
}

// Close stops accepting new requests. Workers still draining Take will
// observe a closed channel once it empties.
func (c *RequestChannel) Close() {
	close(c.ch)
}

// ResponseChannel is a bounded, blocking FIFO queue of AsyncResponse.
type ResponseChannel struct {
	ch chan AsyncResponse
}

// NewResponseChannel creates a ResponseChannel with the given capacity.
func NewResponseChannel(capacity int) *ResponseChannel {
	return &ResponseChannel{ch: make(chan AsyncResponse, capacity)}
}

// Submit blocks until resp is enqueued or ctx is done.
func (c *ResponseChannel) Submit(ctx context.Context, resp AsyncResponse) error {
	select {
	case c.ch <- resp:
		return nil
	case <-ctx.Done():
		return brokererr.Backpressure("response channel full: %v", ctx.Err())
	}
}

// Take blocks until a response is available, the channel is closed and
// drained, or ctx is done. A closed, drained channel reports
// brokererr.Closed rather than a zero-value AsyncResponse.
func (c *ResponseChannel) Take(ctx context.Context) (AsyncResponse, error) {
	select {
	case resp, ok := <-c.ch:
		if !ok {
			return AsyncResponse{}, brokererr.Closed("response channel closed")
		}
		return resp, nil
	case <-ctx.Done():
		return AsyncResponse{}, ctx.Err()
	}
}

// Close stops accepting new responses.
func (c *ResponseChannel) Close() {
	close(c.ch)
}

// Processor handles one RequestType, turning a request's payload into a
// response. Implementations are pure request-to-response functions over
// the storage engine; they must not panic on malformed input.
type Processor interface {
	Process(req AsyncRequest) AsyncResponse
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(req AsyncRequest) AsyncResponse

func (f ProcessorFunc) Process(req AsyncRequest) AsyncResponse {
	return f(req)
}

// Orchestrator runs N worker goroutines, each looping take -> dispatch
// by RequestType -> submit response.
type Orchestrator struct {
	requests   *RequestChannel
	responses  *ResponseChannel
	processors map[RequestType]Processor
	logger     *zap.Logger
}

// NewOrchestrator wires a RequestChannel, a ResponseChannel, and a
// processor table together.
func NewOrchestrator(requests *RequestChannel, responses *ResponseChannel, processors map[RequestType]Processor) *Orchestrator {
	return &Orchestrator{
		requests:   requests,
		responses:  responses,
		processors: processors,
		logger:     zap.L().Named("orchestrator"),
	}
}

// Run starts workerCount worker goroutines and blocks until every worker
// has returned. A worker returns when ctx is done, when the request
// channel is closed and empty, or when it cannot submit a response;
// requests still queued when ctx is cancelled may be left unprocessed.
func (o *Orchestrator) Run(ctx context.Context, workerCount int) {
	done := make(chan struct{}, workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			o.worker(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < workerCount; i++ {
		<-done
	}
}

func (o *Orchestrator) worker(ctx context.Context, id int) {
	logger := o.logger.With(zap.Int("worker", id))
	for {
		req, err := o.requests.Take(ctx)
		if err != nil {
			return
		}

		proc, ok := o.processors[req.Type]
		var resp AsyncResponse
		if !ok {
			logger.Error("no processor registered", zap.String("type", req.Type.String()))
			resp = AsyncResponse{
				RequestID:   req.RequestID,
				StatusCode:  500,
				ContentType: "application/json",
				Body:        []byte(`{"error":"no processor for request type"}`),
				ReplySink:   req.ReplySink,
			}
		} else {
			resp = o.safeProcess(proc, req, logger)
		}

		if err := o.responses.Submit(ctx, resp); err != nil {
			logger.Warn("failed to submit response", zap.Error(err))
			return
		}
	}
}

// safeProcess recovers a processor panic into a 500 response so one bad
// request cannot crash a worker.
func (o *Orchestrator) safeProcess(proc Processor, req AsyncRequest, logger *zap.Logger) (resp AsyncResponse) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("processor panicked", zap.Any("recovered", r), zap.String("type", req.Type.String()))
			resp = AsyncResponse{
				RequestID:   req.RequestID,
				StatusCode:  500,
				ContentType: "application/json",
				Body:        []byte(`{"error":"internal error"}`),
				ReplySink:   req.ReplySink,
			}
		}
	}()
	return proc.Process(req)
}

// ResponseSender runs M worker goroutines, each looping take -> complete
// via ReplySink.
type ResponseSender struct {
	responses *ResponseChannel
	logger    *zap.Logger
}

// NewResponseSender wires a ResponseChannel to a set of sender workers.
func NewResponseSender(responses *ResponseChannel) *ResponseSender {
	return &ResponseSender{responses: responses, logger: zap.L().Named("response-sender")}
}

// Run starts workerCount worker goroutines and blocks until every worker
// has returned. A worker returns when ctx is done or when the response
// channel is closed and empty; responses still queued when ctx is
// cancelled may be left unsent.
func (s *ResponseSender) Run(ctx context.Context, workerCount int) {
	done := make(chan struct{}, workerCount)
	for i := 0; i < workerCount; i++ {
		go func(id int) {
			s.worker(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < workerCount; i++ {
		<-done
	}
}

func (s *ResponseSender) worker(ctx context.Context, id int) {
	logger := s.logger.With(zap.Int("worker", id))
	for {
		resp, err := s.responses.Take(ctx)
		if err != nil {
			return
		}
		if resp.ReplySink == nil {
			logger.Error("response has no reply sink", zap.String("requestId", resp.RequestID))
			continue
		}
		resp.ReplySink.Complete(resp)
	}
}
