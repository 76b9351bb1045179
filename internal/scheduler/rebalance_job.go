package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantum-trader/internal/modules/optimization"
)

// RebalanceJob re-runs the most recently submitted optimization on a
// schedule so portfolio weights track moving market inputs. It is a
// no-op until at least one request has been submitted.
type RebalanceJob struct {
	service *optimization.Service
	log     zerolog.Logger
}

// NewRebalanceJob creates the scheduled re-optimization job.
func NewRebalanceJob(service *optimization.Service, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		service: service,
		log:     log.With().Str("job", "rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string {
	return "rebalance"
}

// Run re-submits the last optimization request, if any.
func (j *RebalanceJob) Run() error {
	req := j.service.LastRequest()
	if req == nil {
		j.log.Debug().Msg("No prior optimization request, skipping rebalance")
		return nil
	}

	// The job outlives this tick; the worker goroutine gets a fresh
	// background context rather than one tied to the cron invocation.
	jobID, err := j.service.StartOptimization(context.Background(), *req)
	if err != nil {
		return err
	}

	j.log.Info().Str("job_id", jobID).Msg("Scheduled rebalance submitted")
	return nil
}
