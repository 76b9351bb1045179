package optimization

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
)

// OptimizerConfig tunes the variational search.
type OptimizerConfig struct {
	// RiskAversion λ ∈ [0,1] weights risk against return in the compiled
	// objective.
	RiskAversion float64
	// Layers is the ansatz depth. Each layer contributes one
	// phase-separation and one mixing parameter.
	Layers int
	// MaxIterations bounds the classical optimizer loop.
	MaxIterations int
	// Tolerance is the function-convergence tolerance.
	Tolerance float64
}

// Optimizer drives a classical derivative-free parameter search against
// repeated quantum-sampling evaluations and converts the final measurement
// distribution into portfolio weights.
type Optimizer struct {
	riskAversion float64
	layers       int
	maxIter      int
	tolerance    float64
	backend      *Manager
	log          zerolog.Logger
}

// NewOptimizer creates a variational optimizer bound to a backend manager.
func NewOptimizer(cfg OptimizerConfig, backend *Manager, log zerolog.Logger) (*Optimizer, error) {
	if cfg.RiskAversion < 0 || cfg.RiskAversion > 1 {
		return nil, fmt.Errorf("%w: risk aversion must be between 0 and 1", ErrInvalidInput)
	}
	if cfg.Layers <= 0 {
		return nil, fmt.Errorf("%w: layer count must be positive", ErrInvalidInput)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 200
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-3
	}
	return &Optimizer{
		riskAversion: cfg.RiskAversion,
		layers:       cfg.Layers,
		maxIter:      cfg.MaxIterations,
		tolerance:    cfg.Tolerance,
		backend:      backend,
		log:          log.With().Str("component", "variational_optimizer").Logger(),
	}, nil
}

// Optimize finds portfolio weights for the universe under the given
// constraints.
//
// Validation errors surface before any backend interaction. Sampler
// acquisition never fails (absorbed by the fallback chain); evaluation
// failures are retried transparently and surface as ErrRetriesExhausted
// when the bound is reached.
func (o *Optimizer) Optimize(ctx context.Context, universe AssetUniverse, constraints ConstraintSet, shots int) (*Result, error) {
	start := time.Now()

	n := universe.NumAssets()
	if n < MinAssets || n > MaxAssets {
		return nil, fmt.Errorf("%w: portfolios of %d-%d assets supported, got %d",
			ErrInvalidInput, MinAssets, MaxAssets, n)
	}
	if constraints.Budget <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrInvalidInput)
	}
	if shots <= 0 {
		return nil, fmt.Errorf("%w: shot count must be positive", ErrInvalidInput)
	}

	budgetPenalty := constraints.BudgetPenalty
	if budgetPenalty == 0 {
		budgetPenalty = DefaultBudgetPenalty
	}
	sectorPenalty := constraints.SectorPenalty
	if sectorPenalty == 0 {
		sectorPenalty = DefaultSectorPenalty
	}

	qubo, err := NewQUBO(n)
	if err != nil {
		return nil, err
	}
	if err := qubo.Compile(universe.Returns, universe.Covariance, o.riskAversion); err != nil {
		return nil, err
	}
	qubo.AddBudgetConstraint(budgetPenalty, constraints.Budget)
	if err := qubo.AddDiversificationConstraints(constraints.SectorLimits, sectorPenalty); err != nil {
		return nil, err
	}

	ising := ToIsing(qubo)
	operator := ising.ToPauli()
	o.log.Debug().
		Int("terms", len(operator.Terms)).
		Float64("offset", ising.Offset).
		Msg("Compiled problem Hamiltonian")

	acq := o.backend.AcquireSampler(ctx, n, shots)
	defer acq.Release()

	bestValue := math.Inf(1)
	var bestDist Distribution
	var evalErr error

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			// A fatal evaluation error or cancellation poisons the rest of
			// the search; the optimizer drains quickly on +Inf.
			if evalErr != nil || ctx.Err() != nil {
				return math.Inf(1)
			}

			circuit := Circuit{
				NumQubits: n,
				Gammas:    x[:o.layers],
				Betas:     x[o.layers:],
				Ising:     ising,
			}

			var value float64
			var dist Distribution
			err := o.backend.ExecuteWithRetries(ctx, "expectation evaluation", func() error {
				d, sampleErr := acq.Sampler.Sample(ctx, circuit, shots)
				if sampleErr != nil {
					return fmt.Errorf("%w: %v", ErrEvaluationFailed, sampleErr)
				}
				dist = d
				value = operator.Expectation(d)
				return nil
			})
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}

			if value < bestValue {
				bestValue = value
				bestDist = dist
			}
			return value
		},
	}

	initial := make([]float64, 2*o.layers)
	for i := range initial {
		initial[i] = 0.1
	}

	settings := &optimize.Settings{
		MajorIterations: o.maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   o.tolerance,
			Iterations: 2 * o.layers * 10,
		},
	}

	optResult, optErr := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if evalErr != nil {
		o.log.Error().Err(evalErr).Msg("Variational optimization failed")
		return nil, evalErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if optErr != nil && optResult == nil {
		return nil, fmt.Errorf("classical parameter search failed: %w", optErr)
	}

	bitstring, probability := selectBitstring(bestDist, n)
	weights := bitstringToWeights(bitstring)

	var objective float64
	for i, w := range weights {
		objective += w * universe.Returns[i]
	}

	elapsed := time.Since(start)
	o.log.Info().
		Dur("duration_ms", elapsed).
		Int("assets", n).
		Int("shots", shots).
		Float64("probability", probability).
		Msg("Variational execution metrics")

	o.log.Info().
		Str("bitstring", bitstring).
		Float64("objective", objective).
		Float64("eigenvalue", bestValue).
		Msg("Optimization completed")

	return &Result{
		Weights:        weights,
		Bitstring:      bitstring,
		ObjectiveValue: objective,
		Eigenvalue:     bestValue,
		Metadata: Metadata{
			OptimizerEigenvalue: bestValue,
			Distribution:        bestDist,
			ExecutionTime:       elapsed.Seconds(),
			TotalCost:           o.backend.TotalCost(),
		},
	}, nil
}
