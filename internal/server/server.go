// Package server exposes nested cross-validation runs as asynchronous jobs
// over HTTP and JSON-RPC 2.0.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/copyleftdev/nestedcv/internal/config"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/logging"
	"github.com/copyleftdev/nestedcv/internal/telemetry"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeJobNotFound    = -32004
)

// maxBodyBytes bounds request bodies; inline datasets can be large.
const maxBodyBytes = 32 << 20

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
	Zap() *zap.Logger
}

// Server implements the HTTP and JSON-RPC server for tuning jobs.
// It manages jobs and provides endpoints to start, monitor, and cancel them.
type Server struct {
	cfg     *config.Config
	logger  Logger
	metrics *telemetry.Metrics

	jobs   map[string]*JobState
	jobsMu sync.RWMutex // Protects jobs and every JobState in it

	// slots bounds the number of jobs running at once.
	slots chan struct{}
	wg    sync.WaitGroup
}

// NewServer creates a new server instance with the given config and logger.
// metrics may be nil.
func NewServer(cfg *config.Config, logger Logger, metrics *telemetry.Metrics) *Server {
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		jobs:    make(map[string]*JobState),
		slots:   make(chan struct{}, workers),
	}
}

// RegisterRoutes mounts the REST and JSON-RPC endpoints on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tune", s.handleTune)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/tune/{id}", s.handleCancel)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params may be an object or
// an array whose first element is the object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}
	request := gjson.ParseBytes(body)
	id := request.Get("id").Value()

	if request.Get("jsonrpc").String() != "2.0" || request.Get("method").Type != gjson.String {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", id)
		return
	}

	params := request.Get("params")
	if params.IsArray() {
		params = params.Get("0")
	}

	var result interface{}
	switch request.Get("method").String() {
	case "tuning.start":
		result, err = s.handleTuneStart(params)
	case "tuning.status":
		result, err = s.handleTuneStatus(params)
	case "tuning.cancel":
		result, err = s.handleTuneCancel(params)
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", id)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), id)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

// handleTuneStart handles the tuning.start JSON-RPC method.
// It validates the request and starts a job; see parseTuneRequest for the
// parameters.
// Returns: {"job_id": "job_123", "status": "pending"}
func (s *Server) handleTuneStart(params gjson.Result) (interface{}, error) {
	req, err := parseTuneRequest(params, s.cfg)
	if err != nil {
		return nil, err
	}
	state := s.startJob(req)
	return map[string]interface{}{
		"job_id": state.ID,
		"status": StatusPending,
	}, nil
}

// handleTuneStatus handles the tuning.status JSON-RPC method.
// Expected parameters: {"job_id": "job_123"}
// Returns: status, progress, finished outer folds and, once completed, the
// nested cross-validation estimate
func (s *Server) handleTuneStatus(params gjson.Result) (interface{}, error) {
	id, err := parseJobID(params)
	if err != nil {
		return nil, err
	}
	return s.jobStatus(id)
}

// handleTuneCancel handles the tuning.cancel JSON-RPC method.
// Expected parameters: {"job_id": "job_123"}
func (s *Server) handleTuneCancel(params gjson.Result) (interface{}, error) {
	id, err := parseJobID(params)
	if err != nil {
		return nil, err
	}
	if err := s.cancelJob(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"job_id": id,
		"status": StatusCancelled,
	}, nil
}

func rpcCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return codeJobNotFound
	case errors.Is(err, errors.ErrInvalidConfiguration),
		errors.Is(err, errors.ErrInvalidRange),
		errors.Is(err, errors.ErrDuplicateBranchKey),
		errors.Is(err, errors.ErrDimensionMismatch):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

func httpStatus(err error) int {
	switch rpcCode(err) {
	case codeJobNotFound:
		return http.StatusNotFound
	case codeInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", map[string]interface{}{"error": err})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, httpStatus(err), map[string]interface{}{"error": err.Error()})
}

// Close cancels every job and waits for their goroutines to return.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	for _, job := range s.jobs {
		if job.CancelFunc != nil {
			job.CancelFunc()
		}
	}
	s.jobsMu.RUnlock()

	s.wg.Wait()
	return nil
}

// handleTune handles POST /api/v1/tune with the tuning.start parameters as
// the body.
func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
		return
	}

	result, err := s.handleTuneStart(gjson.ParseBytes(body))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.jobStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleCancel handles DELETE /api/v1/tune/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelJob(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancellation requested",
	})
}
