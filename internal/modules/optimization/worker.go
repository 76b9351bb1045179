package optimization

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/quantfolio/quantum-trader/internal/events"
)

// Worker executes one optimization request on a dedicated goroutine and
// reports its lifecycle over the injected event bus: started, progress,
// then exactly one of completed, failed or cancelled.
//
// Cancellation is cooperative: the flag is checked before the evaluation
// phase starts and again before completion is reported. An evaluation
// round-trip already in flight runs to completion first.
type Worker struct {
	jobID     string
	optimizer *Optimizer
	bus       *events.Bus
	log       zerolog.Logger

	universe    AssetUniverse
	constraints ConstraintSet
	shots       int

	cancelled atomic.Bool
}

// NewWorker creates a worker for one optimization request.
func NewWorker(jobID string, optimizer *Optimizer, bus *events.Bus, universe AssetUniverse, constraints ConstraintSet, shots int, log zerolog.Logger) *Worker {
	return &Worker{
		jobID:       jobID,
		optimizer:   optimizer,
		bus:         bus,
		log:         log.With().Str("component", "quantum_worker").Str("job_id", jobID).Logger(),
		universe:    universe,
		constraints: constraints,
		shots:       shots,
	}
}

// Cancel requests cooperative cancellation. Best-effort, not synchronous.
func (w *Worker) Cancel() {
	w.cancelled.Store(true)
}

// Run executes the optimization and emits lifecycle events. It returns the
// result, or ErrCancelled when the cancellation flag was honored.
func (w *Worker) Run(ctx context.Context) (*Result, error) {
	w.bus.Emit("optimization", &events.OptimizationStartedData{JobID: w.jobID})

	w.progress(5, "Preparing quantum optimization")
	if w.cancelled.Load() {
		w.emitCancelled("Cancelled before start")
		return nil, ErrCancelled
	}

	w.progress(20, "Running variational optimizer")
	result, err := w.optimizer.Optimize(ctx, w.universe, w.constraints, w.shots)
	if err != nil {
		w.log.Error().Err(err).Msg("Quantum optimization failed")
		w.bus.Emit("optimization", &events.OptimizationFailedData{
			JobID:  w.jobID,
			Reason: err.Error(),
		})
		return nil, err
	}

	w.progress(90, "Processing optimization results")
	if w.cancelled.Load() {
		w.emitCancelled("Cancelled by user")
		return nil, ErrCancelled
	}

	w.progress(98, "Finalizing results")
	w.bus.Emit("optimization", &events.OptimizationCompletedData{
		JobID:   w.jobID,
		Payload: resultPayload(result),
	})
	return result, nil
}

func (w *Worker) progress(percent int, message string) {
	w.bus.Emit("optimization", &events.OptimizationProgressData{
		JobID:   w.jobID,
		Percent: percent,
		Message: message,
	})
}

func (w *Worker) emitCancelled(reason string) {
	w.log.Info().Str("reason", reason).Msg("Optimization cancelled")
	w.bus.Emit("optimization", &events.OptimizationCancelledData{
		JobID:  w.jobID,
		Reason: reason,
	})
}

// resultPayload flattens a result for notification consumers.
func resultPayload(r *Result) map[string]interface{} {
	return map[string]interface{}{
		"weights":         r.Weights,
		"bitstring":       r.Bitstring,
		"objective_value": r.ObjectiveValue,
		"eigenvalue":      r.Eigenvalue,
		"metadata": map[string]interface{}{
			"optimizer_eigenvalue": r.Metadata.OptimizerEigenvalue,
			"distribution":         r.Metadata.Distribution,
			"execution_time":       r.Metadata.ExecutionTime,
			"total_cost":           r.Metadata.TotalCost,
		},
	}
}
