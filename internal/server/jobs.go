package server

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization"
	"github.com/copyleftdev/nestedcv/internal/tuning"
)

// Job states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

var jobSeq atomic.Int64

// JobState represents the state of a tuning job.
// It tracks the progress, status, and results of a nested cross-validation run.
// All fields are guarded by the server's jobs mutex.
type JobState struct {
	ID          string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time

	// Progress is the fraction of outer folds finished.
	Progress   float64
	OuterFolds int
	Folds      []tuning.FoldReport
	Report     *tuning.Report
	Err        string

	CancelFunc context.CancelFunc
}

func newJobID() string {
	return fmt.Sprintf("job_%d_%d", time.Now().UnixNano(), jobSeq.Add(1))
}

func terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// startJob registers a job for req and runs it in the background.
func (s *Server) startJob(req tuneRequest) *JobState {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &JobState{
		ID:          newJobID(),
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		OuterFolds:  req.OuterFolds,
		CancelFunc:  cancel,
	}

	s.jobsMu.Lock()
	s.jobs[state.ID] = state
	s.jobsMu.Unlock()
	s.metrics.JobTransition("", StatusPending)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runJob(ctx, state, req)
	}()
	return state
}

// runJob waits for a worker slot, then runs the nested cross-validation.
func (s *Server) runJob(ctx context.Context, state *JobState, req tuneRequest) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.finishJob(state, nil, ctx.Err())
		return
	}

	s.jobsMu.Lock()
	if state.Status != StatusPending {
		s.jobsMu.Unlock()
		return
	}
	state.Status = StatusRunning
	state.LastUpdated = time.Now()
	s.jobsMu.Unlock()
	s.metrics.JobTransition(StatusPending, StatusRunning)

	logger := s.logger.WithFields(map[string]interface{}{"job_id": state.ID})
	logger.Info("Tuning job started", map[string]interface{}{
		"samples":     req.Data.Len(),
		"outer_folds": req.OuterFolds,
		"tuned":       req.Space != nil,
		"proposer":    req.Proposer,
		"budget":      req.Budget,
	})

	exp := tuning.Experiment{
		Data:       req.Data,
		OuterFolds: req.OuterFolds,
		Seed:       req.Seed,
		Loss:       req.Loss,
		Logger:     logger.Zap(),
		Metrics:    s.metrics,
		OnFold: func(fr tuning.FoldReport) {
			s.jobsMu.Lock()
			defer s.jobsMu.Unlock()
			state.Folds = append(state.Folds, fr)
			state.Progress = float64(len(state.Folds)) / float64(state.OuterFolds)
			state.LastUpdated = time.Now()
		},
	}

	var report *tuning.Report
	var err error
	if req.Space == nil {
		report, err = exp.Untuned(ctx)
	} else {
		report, err = exp.Tuned(ctx, tuning.TuneSettings{
			InnerFolds: req.InnerFolds,
			InnerIter:  req.InnerIter,
			Budget:     req.Budget,
			Space:      req.Space,
			Proposer:   req.Proposer,
			Workers:    req.Workers,
		})
	}
	s.finishJob(state, report, err)
}

// finishJob records the outcome of a job. A job cancelled by a request
// stays cancelled whatever the run returned.
func (s *Server) finishJob(state *JobState, report *tuning.Report, err error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if terminal(state.Status) {
		return
	}
	from := state.Status
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	switch {
	case err == nil:
		state.Status = StatusCompleted
		state.Report = report
		state.Progress = 1
		s.logger.Info("Tuning job completed", map[string]interface{}{
			"job_id": state.ID,
			"score":  report.Score,
		})
	case errors.Is(err, context.Canceled):
		state.Status = StatusCancelled
	default:
		state.Status = StatusFailed
		state.Err = err.Error()
		s.logger.Error("Tuning job failed", map[string]interface{}{
			"job_id": state.ID,
			"error":  err,
		})
	}
	s.metrics.JobTransition(from, state.Status)
}

// cancelJob cancels a pending or running job.
func (s *Server) cancelJob(id string) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return errors.Newf(errors.ErrNotFound, "job %s not found", id).WithComponent("server")
	}
	if terminal(state.Status) {
		return errors.Newf(errors.ErrInvalidConfiguration, "cannot cancel job with status %s", state.Status).
			WithComponent("server")
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	from := state.Status
	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
	s.metrics.JobTransition(from, StatusCancelled)

	s.logger.Info("Tuning job cancelled", map[string]interface{}{"job_id": id})
	return nil
}

// jobStatus renders a job for clients.
func (s *Server) jobStatus(id string) (map[string]interface{}, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	state, ok := s.jobs[id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "job %s not found", id).WithComponent("server")
	}

	response := map[string]interface{}{
		"job_id":      state.ID,
		"status":      state.Status,
		"progress":    state.Progress,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Err != "" {
		response["error"] = state.Err
	}

	folds := make([]map[string]interface{}, len(state.Folds))
	for i, fr := range state.Folds {
		folds[i] = foldView(fr)
	}
	response["folds"] = folds

	if state.Report != nil {
		response["result"] = map[string]interface{}{
			"name":    state.Report.Name,
			"score":   finite(state.Report.Score),
			"std_dev": finite(state.Report.StdDev),
		}
	}
	return response, nil
}

func foldView(fr tuning.FoldReport) map[string]interface{} {
	view := map[string]interface{}{
		"fold":        fr.Fold,
		"train_size":  fr.TrainSize,
		"test_size":   fr.TestSize,
		"score":       finite(fr.Score),
		"inner_score": finite(fr.InnerScore),
		"duration_ms": fr.Duration.Milliseconds(),
		"dropped":     fr.Dropped,
	}
	if fr.Best.Len() > 0 {
		view["best"] = fr.Best
	}
	if len(fr.Trace) > 0 {
		view["history"] = traceView(fr.Trace)
	}
	return view
}

func traceView(trace []optimization.Evaluation) []map[string]interface{} {
	out := make([]map[string]interface{}, len(trace))
	for i, ev := range trace {
		item := map[string]interface{}{
			"index":         ev.Index,
			"branch":        ev.Branch,
			"configuration": ev.Configuration,
			"score":         finite(ev.Score),
		}
		if ev.Err != nil {
			item["error"] = ev.Err.Error()
		}
		out[i] = item
	}
	return out
}

// finite maps NaN and infinities to nil, which encoding/json cannot encode
// as numbers.
func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
