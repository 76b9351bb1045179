package optimization

import "errors"

// Error taxonomy for the optimization engine.
//
// Validation errors surface immediately and are never retried. Backend
// authentication/selection/session errors are absorbed by the fallback
// chain and never reach callers. Evaluation errors are retried up to the
// configured bound, then surface as ErrRetriesExhausted.
var (
	// ErrInvalidInput indicates malformed dimensions or out-of-range
	// parameters. Always caller-fixable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConstraint indicates a malformed sector or budget
	// definition.
	ErrInvalidConstraint = errors.New("invalid constraint")

	// ErrNoCapableBackend indicates no hardware/cloud backend meets the
	// qubit requirement. Only possible at the top tier, before fallback.
	ErrNoCapableBackend = errors.New("no capable backend")

	// ErrEvaluationFailed indicates a single sampler round-trip failed.
	ErrEvaluationFailed = errors.New("evaluation failed")

	// ErrRetriesExhausted is fatal: the retry bound was reached. It wraps
	// the last underlying evaluation failure.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrTimeout indicates job polling exceeded its deadline.
	ErrTimeout = errors.New("job monitoring timed out")

	// ErrCancelled indicates the optimization was cancelled cooperatively.
	ErrCancelled = errors.New("optimization cancelled")
)
