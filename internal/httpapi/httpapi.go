// Package httpapi wires the broker's HTTP surface onto the
// request/response pipeline: every handler builds a pipeline.AsyncRequest,
// submits it, and blocks on a channel-backed pipeline.ReplySink for the
// matching pipeline.AsyncResponse, rather than calling the storage engine
// directly.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ndungu/logbroker/internal/pipeline"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server owns the router and the submission side of the pipeline.
type Server struct {
	router          *mux.Router
	requests        *pipeline.RequestChannel
	submitTimeout   time.Duration
	maxMessageSize  int64
	metricsRegistry *prometheus.Registry
	logger          *zap.Logger
}

// New builds the router for every broker endpoint, submitting each
// request onto requests and blocking for its matching response.
// metricsRegistry backs both the JSON GET /metrics route (via the
// pipeline) and the raw Prometheus exposition format served at
// GET /internal/metrics/prometheus.
func New(requests *pipeline.RequestChannel, submitTimeout time.Duration, maxMessageSize int64, metricsRegistry *prometheus.Registry) *Server {
	s := &Server{
		router:          mux.NewRouter(),
		requests:        requests,
		submitTimeout:   submitTimeout,
		maxMessageSize:  maxMessageSize,
		metricsRegistry: metricsRegistry,
		logger:          zap.L().Named("httpapi"),
	}
	s.routes()
	return s
}

// ServeHTTP lets Server itself be passed straight to http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(s.accessLog)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.Handle("/internal/metrics/prometheus",
		promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/topics", s.handleListTopics).Methods(http.MethodGet)
	s.router.HandleFunc("/topics", s.handleCreateTopic).Methods(http.MethodPost)
	s.router.HandleFunc("/topics/{name}", s.handleDeleteTopic).Methods(http.MethodDelete)
	s.router.HandleFunc("/topics/{name}", s.handlePublish).Methods(http.MethodPost)
	s.router.HandleFunc("/topics/{name}", s.handleConsume).Methods(http.MethodGet)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// httpReplySink is a pipeline.ReplySink backed by a one-shot channel; the
// HTTP handler goroutine blocks on it after submitting the request.
type httpReplySink struct {
	ch chan pipeline.AsyncResponse
}

func newHTTPReplySink() *httpReplySink {
	return &httpReplySink{ch: make(chan pipeline.AsyncResponse, 1)}
}

func (s *httpReplySink) Complete(resp pipeline.AsyncResponse) {
	s.ch <- resp
}

// dispatch submits an AsyncRequest of the given type and blocks until
// its response arrives or the request context is cancelled.
func (s *Server) dispatch(r *http.Request, typ pipeline.RequestType, payload []byte) (pipeline.AsyncResponse, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.submitTimeout)
	defer cancel()

	deadline, _ := ctx.Deadline()

	sink := newHTTPReplySink()
	req := pipeline.AsyncRequest{
		RequestID: pipeline.NewRequestID(),
		Type:      typ,
		Payload:   payload,
		ReplySink: sink,
		Deadline:  deadline,
	}

	if err := s.requests.Submit(ctx, req); err != nil {
		return pipeline.AsyncResponse{}, err
	}

	select {
	case resp := <-sink.ch:
		return resp, nil
	case <-ctx.Done():
		return pipeline.AsyncResponse{}, ctx.Err()
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp pipeline.AsyncResponse, err error) {
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request timed out or queue is full")
		return
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dispatch(r, pipeline.Health, nil)
	s.writeResponse(w, resp, err)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dispatch(r, pipeline.Metrics, nil)
	s.writeResponse(w, resp, err)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	resp, err := s.dispatch(r, pipeline.ListTopics, nil)
	s.writeResponse(w, resp, err)
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.dispatch(r, pipeline.CreateTopic, body)
	s.writeResponse(w, resp, err)
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := s.dispatch(r, pipeline.DeleteTopic, body)
	s.writeResponse(w, resp, err)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var in struct {
		Data string `json:"data"`
	}
	raw, err := s.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	body, _ := json.Marshal(map[string]string{"topic": name, "data": in.Data})
	resp, err := s.dispatch(r, pipeline.Publish, body)
	s.writeResponse(w, resp, err)
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	offsetParam := r.URL.Query().Get("offset")
	offset, err := strconv.ParseUint(offsetParam, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	body, _ := json.Marshal(map[string]interface{}{"topic": name, "offset": offset})
	resp, dispatchErr := s.dispatch(r, pipeline.Consume, body)
	s.writeResponse(w, resp, dispatchErr)
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, s.maxMessageSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.maxMessageSize {
		return nil, errMessageTooLarge
	}
	return data, nil
}

var errMessageTooLarge = &messageTooLargeError{}

type messageTooLargeError struct{}

func (*messageTooLargeError) Error() string { return "request body exceeds maximum message size" }
