package optimization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantfolio/quantum-trader/internal/events"
	"github.com/quantfolio/quantum-trader/pkg/formulas"
)

// Service is the public optimization surface: it submits requests to
// background workers, tracks job lifecycles, and retains completed
// results for reporting.
type Service struct {
	optimizer *Optimizer
	backend   *Manager
	bus       *events.Bus
	history   *History
	log       zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	lastReq *Request
}

type jobEntry struct {
	record JobRecord
	worker *Worker
}

// MaxConcurrentJobs caps simultaneously running optimizations. Each job
// holds a statevector and a backend session, so the cap is conservative.
const MaxConcurrentJobs = 4

// maxTerminalJobs caps retained finished job records, mirroring the
// result history cap. Running jobs are never evicted.
const maxTerminalJobs = 100

// NewService creates the optimization service.
func NewService(optimizer *Optimizer, backend *Manager, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		optimizer: optimizer,
		backend:   backend,
		bus:       bus,
		history:   NewHistory(100),
		log:       log.With().Str("service", "optimization").Logger(),
		jobs:      make(map[string]*jobEntry),
	}
}

// StartOptimization validates the request shape and launches a worker.
// It returns the assigned job id immediately; progress and the terminal
// outcome are reported through the event bus and the job record.
func (s *Service) StartOptimization(ctx context.Context, req Request) (string, error) {
	if len(req.Returns) == 0 && len(req.Prices) > 0 {
		returns, err := formulas.ExpectedReturns(req.Prices)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		cov, err := formulas.CovarianceMatrix(req.Prices)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		req.Returns = returns
		req.Covariance = cov
	}

	n := len(req.Returns)
	if n == 0 {
		return "", fmt.Errorf("%w: returns vector or price histories required", ErrInvalidInput)
	}
	if len(req.Covariance) != n {
		return "", fmt.Errorf("%w: covariance matrix must be %dx%d", ErrInvalidInput, n, n)
	}

	shots := req.Shots
	if shots <= 0 {
		shots = 2048
	}

	jobID := uuid.New().String()
	universe := AssetUniverse{
		Symbols:    req.Symbols,
		Returns:    req.Returns,
		Covariance: req.Covariance,
	}
	constraints := ConstraintSet{
		Budget:       req.Budget,
		SectorLimits: req.SectorLimits,
	}

	worker := NewWorker(jobID, s.optimizer, s.bus, universe, constraints, shots, s.log)

	s.mu.Lock()
	if s.runningLocked() >= MaxConcurrentJobs {
		s.mu.Unlock()
		return "", fmt.Errorf("at most %d concurrent optimizations supported", MaxConcurrentJobs)
	}
	s.jobs[jobID] = &jobEntry{
		record: JobRecord{
			ID:        jobID,
			State:     JobRunning,
			StartedAt: time.Now(),
		},
		worker: worker,
	}
	reqCopy := req
	s.lastReq = &reqCopy
	s.mu.Unlock()

	go s.runJob(ctx, jobID, worker)

	s.log.Info().Str("job_id", jobID).Int("assets", n).Int("shots", shots).Msg("Optimization job started")
	return jobID, nil
}

func (s *Service) runJob(ctx context.Context, jobID string, worker *Worker) {
	result, err := worker.Run(ctx)

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return
	}
	entry.record.FinishedAt = &now

	switch {
	case err == nil:
		entry.record.State = JobCompleted
		entry.record.Result = result
		s.history.Add(HistoryEntry{
			JobID:          jobID,
			CompletedAt:    now,
			Bitstring:      result.Bitstring,
			Weights:        result.Weights,
			ObjectiveValue: result.ObjectiveValue,
			Eigenvalue:     result.Eigenvalue,
			TotalCost:      result.Metadata.TotalCost,
		})
	case errors.Is(err, ErrCancelled):
		entry.record.State = JobCancelled
		entry.record.Error = err.Error()
	default:
		entry.record.State = JobFailed
		entry.record.Error = err.Error()
	}

	s.evictTerminalLocked()
}

// evictTerminalLocked drops the oldest finished job records beyond the
// retention cap. Caller holds s.mu.
func (s *Service) evictTerminalLocked() {
	type finished struct {
		id string
		at time.Time
	}
	var done []finished
	for id, entry := range s.jobs {
		if entry.record.State != JobRunning && entry.record.FinishedAt != nil {
			done = append(done, finished{id: id, at: *entry.record.FinishedAt})
		}
	}
	if len(done) <= maxTerminalJobs {
		return
	}
	sort.Slice(done, func(i, j int) bool { return done[i].at.Before(done[j].at) })
	for _, f := range done[:len(done)-maxTerminalJobs] {
		delete(s.jobs, f.id)
	}
}

// runningLocked counts jobs still in flight. Caller holds s.mu.
func (s *Service) runningLocked() int {
	n := 0
	for _, entry := range s.jobs {
		if entry.record.State == JobRunning {
			n++
		}
	}
	return n
}

// CancelJob requests cooperative cancellation of a running job.
func (s *Service) CancelJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("unknown job %s", jobID)
	}
	if entry.record.State != JobRunning {
		return fmt.Errorf("job %s already %s", jobID, entry.record.State)
	}
	entry.worker.Cancel()
	s.log.Info().Str("job_id", jobID).Msg("Cancellation requested")
	return nil
}

// GetJob returns a snapshot of a job record.
func (s *Service) GetJob(jobID string) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return JobRecord{}, false
	}
	return entry.record, true
}

// History returns the retained completed results, oldest first.
func (s *Service) History() []HistoryEntry {
	return s.history.List()
}

// ExportHistory serializes the retained results as a msgpack blob.
func (s *Service) ExportHistory() ([]byte, error) {
	return s.history.Export()
}

// ImportHistory replaces the retained results with a previously
// exported blob.
func (s *Service) ImportHistory(data []byte) error {
	return s.history.Import(data)
}

// TotalCost returns the accumulated estimated execution cost.
func (s *Service) TotalCost() float64 {
	return s.backend.TotalCost()
}

// LastRequest returns the most recently submitted request, if any. Used
// by the scheduled re-optimization job.
func (s *Service) LastRequest() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReq == nil {
		return nil
	}
	reqCopy := *s.lastReq
	return &reqCopy
}
