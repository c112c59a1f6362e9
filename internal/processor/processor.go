// Package processor implements the pure request-to-response functions
// the pipeline orchestrator dispatches to by pipeline.RequestType: one
// small handler per request kind, sharing a single Processor interface.
package processor

import (
	"encoding/json"
	"time"

	"github.com/ndungu/logbroker/internal/brokererr"
	"github.com/ndungu/logbroker/internal/metrics"
	"github.com/ndungu/logbroker/internal/pipeline"
	"github.com/ndungu/logbroker/internal/registry"
)

const jsonContentType = "application/json"

// Engine holds everything a processor needs to turn a request into a
// response: the topic registry and the counters to update along the
// way.
type Engine struct {
	Registry *registry.Registry
	Metrics  *metrics.Metrics
}

// Table builds the full pipeline.RequestType -> pipeline.Processor
// mapping for one Engine. Every handler is wrapped with a deadline
// check so a request whose submission deadline has already passed
// never starts its I/O.
func (e *Engine) Table() map[pipeline.RequestType]pipeline.Processor {
	return map[pipeline.RequestType]pipeline.Processor{
		pipeline.Health:      pipeline.ProcessorFunc(e.withDeadline(e.health)),
		pipeline.ListTopics:  pipeline.ProcessorFunc(e.withDeadline(e.listTopics)),
		pipeline.CreateTopic: pipeline.ProcessorFunc(e.withDeadline(e.createTopic)),
		pipeline.DeleteTopic: pipeline.ProcessorFunc(e.withDeadline(e.deleteTopic)),
		pipeline.Publish:     pipeline.ProcessorFunc(e.withDeadline(e.publish)),
		pipeline.Consume:     pipeline.ProcessorFunc(e.withDeadline(e.consume)),
		pipeline.Metrics:     pipeline.ProcessorFunc(e.withDeadline(e.metricsSnapshot)),
	}
}

// withDeadline rejects a request with brokererr.Timeout if req.Deadline
// is set and has already passed, instead of letting the wrapped handler
// start its I/O.
func (e *Engine) withDeadline(next pipeline.ProcessorFunc) pipeline.ProcessorFunc {
	return func(req pipeline.AsyncRequest) pipeline.AsyncResponse {
		if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
			return e.errorResponse(req, brokererr.Timeout("request exceeded its deadline before processing began"))
		}
		return next(req)
	}
}

func (e *Engine) health(req pipeline.AsyncRequest) pipeline.AsyncResponse {
	e.Metrics.ProcessedRequests.Inc()
	return jsonOK(req, map[string]string{"status": "ok", "message": "healthy"})
}

func (e *Engine) listTopics(req pipeline.AsyncRequest) pipeline.AsyncResponse {
	e.Metrics.ProcessedRequests.Inc()
	return jsonOK(req, map[string][]string{"topics": e.Registry.List()})
}

type createTopicRequest struct {
	Name string `json:"name"`
}

func (e *Engine) createTopic(req pipeline.AsyncRequest) pipeline.AsyncResponse {
	e.Metrics.ProcessedRequests.Inc()

	var body createTopicRequest
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return e.errorResponse(req, brokererr.InvalidArgument("malformed JSON body: %v", err))
	}

	if _, err := e.Registry.Create(body.Name); err != nil {
		return e.errorResponse(req, err)
	}
	return pipeline.AsyncResponse{
		RequestID:   req.RequestID,
		StatusCode:  201,
		ContentType: jsonContentType,
		Body:        mustMarshal(map[string]string{"name": body.Name}),
		ReplySink:   req.ReplySink,
	}
}

type topicNamePayload struct {
	Name string `json:"name"`
}

func (e *Engine) deleteTopic(req pipeline.AsyncRequest) pipeline.AsyncResponse {
	e.Metrics.ProcessedRequests.Inc()

	var body topicNamePayload
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return e.errorResponse(req, brokererr.InvalidArgument("malformed JSON body: %v", err))
	}

	if err := e.Registry.Delete(body.Name); err != nil {
		return e.errorResponse(req, err)
	}
	return pipeline.AsyncResponse{
		RequestID:  req.RequestID,
		StatusCode: 204,
		ReplySink:  req.ReplySink,
	}
}

type publishRequest struct {
	Topic string `json:"topic"`
	Data  string `json:"data"`
}

type publishResponse struct {
	Offset    uint64 `json:"offset"`
	Timestamp int64  `json:"timestamp"`
}

func (e *Engine) publish(req pipeline.AsyncRequest) pipeline.AsyncResponse {
	e.Metrics.ProcessedRequests.Inc()

	var body publishRequest
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return e.errorResponse(req, brokererr.InvalidArgument("malformed JSON body: %v", err))
	}

	l, err := e.Registry.Get(body.Topic)
	if err != nil {
		return e.errorResponse(req, err)
	}

	offset, err := l.Append([]byte(body.Data))
	if err != nil {
		return e.errorResponse(req, err)
	}

	rec, err := l.Read(offset)
	if err != nil {
		return e.errorResponse(req, err)
	}

	e.Metrics.ProducerMessages.Inc()
	return jsonOK(req, publishResponse{Offset: offset, Timestamp: int64(rec.Timestamp)})
}

type consumeResponse struct {
	Offset    uint64 `json:"offset"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
}

func (e *Engine) consume(req pipeline.AsyncRequest) pipeline.AsyncResponse {
	e.Metrics.ProcessedRequests.Inc()

	var body struct {
		Topic  string `json:"topic"`
		Offset uint64 `json:"offset"`
	}
	if err := json.Unmarshal(req.Payload, &body); err != nil {
		return e.errorResponse(req, brokererr.InvalidArgument("malformed JSON body: %v", err))
	}

	l, err := e.Registry.Get(body.Topic)
	if err != nil {
		return e.errorResponse(req, err)
	}

	rec, err := l.Read(body.Offset)
	if err != nil {
		return e.errorResponse(req, err)
	}

	e.Metrics.ConsumerMessages.Inc()
	return jsonOK(req, consumeResponse{
		Offset:    rec.Offset,
		Timestamp: int64(rec.Timestamp),
		Data:      string(rec.Data),
	})
}

func (e *Engine) metricsSnapshot(req pipeline.AsyncRequest) pipeline.AsyncResponse {
	return jsonOK(req, e.Metrics.Snapshot())
}

// errorResponse maps an engine error's Kind to an HTTP status code and
// increments the error counter.
func (e *Engine) errorResponse(req pipeline.AsyncRequest, err error) pipeline.AsyncResponse {
	e.Metrics.Errors.Inc()

	status := 500
	if kind, ok := brokererr.KindOf(err); ok {
		switch kind {
		case brokererr.KindInvalidArgument:
			status = 400
		case brokererr.KindNotFound:
			status = 404
		case brokererr.KindExists:
			status = 409
		case brokererr.KindBackpressure:
			status = 503
		case brokererr.KindTimeout:
			status = 504
		case brokererr.KindIO, brokererr.KindCorrupt, brokererr.KindClosed, brokererr.KindFull:
			status = 500
		}
	}

	return pipeline.AsyncResponse{
		RequestID:   req.RequestID,
		StatusCode:  status,
		ContentType: jsonContentType,
		Body:        mustMarshal(map[string]string{"error": err.Error()}),
		ReplySink:   req.ReplySink,
	}
}

func jsonOK(req pipeline.AsyncRequest, v interface{}) pipeline.AsyncResponse {
	return pipeline.AsyncResponse{
		RequestID:   req.RequestID,
		StatusCode:  200,
		ContentType: jsonContentType,
		Body:        mustMarshal(v),
		ReplySink:   req.ReplySink,
	}
}

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"failed to encode response"}`)
	}
	return b
}
