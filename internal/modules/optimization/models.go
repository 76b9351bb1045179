package optimization

import "time"

// Portfolio size limits supported by the binary encoding. One qubit per
// asset keeps circuits within the reach of current backends.
const (
	MinAssets = 5
	MaxAssets = 20
)

// AssetUniverse is the immutable optimization input: an ordered list of
// asset identifiers, expected returns and the covariance matrix.
type AssetUniverse struct {
	Symbols    []string    `json:"symbols"`
	Returns    []float64   `json:"returns"`
	Covariance [][]float64 `json:"covariance"`
}

// NumAssets returns the size of the universe.
func (u AssetUniverse) NumAssets() int {
	return len(u.Returns)
}

// SectorLimit caps the number of selected assets within a named sector.
// Assets holds universe indices; Max is the maximum active count.
type SectorLimit struct {
	Assets []int `json:"assets"`
	Max    *int  `json:"max"`
}

// ConstraintSet bundles the soft constraints applied to one request.
// Penalty weights are caller-controlled and not auto-tuned; larger values
// trade feasibility enforcement against solution quality.
type ConstraintSet struct {
	Budget        float64                `json:"budget"`
	SectorLimits  map[string]SectorLimit `json:"sector_limits,omitempty"`
	BudgetPenalty float64                `json:"budget_penalty,omitempty"`
	SectorPenalty float64                `json:"sector_penalty,omitempty"`
}

// Default penalty strengths, matching the tuning the engine ships with.
const (
	DefaultBudgetPenalty = 1000.0
	DefaultSectorPenalty = 750.0
)

// Distribution maps measured bitstrings to probabilities. Position i of a
// bitstring corresponds to asset i.
type Distribution map[string]float64

// Metadata carries diagnostics attached to a completed optimization.
type Metadata struct {
	OptimizerEigenvalue float64      `json:"optimizer_eigenvalue"`
	Distribution        Distribution `json:"distribution"`
	ExecutionTime       float64      `json:"execution_time"`
	TotalCost           float64      `json:"total_cost"`
}

// Result is the outcome of one optimization call.
type Result struct {
	Weights        []float64 `json:"weights"`
	Bitstring      string    `json:"bitstring"`
	ObjectiveValue float64   `json:"objective_value"`
	Eigenvalue     float64   `json:"eigenvalue"`
	Metadata       Metadata  `json:"metadata"`
}

// Request is one optimization submission as received from a consumer.
// Either Returns and Covariance are given directly, or Prices holds
// per-asset daily price histories from which both are derived.
type Request struct {
	Symbols      []string               `json:"symbols,omitempty"`
	Returns      []float64              `json:"returns,omitempty"`
	Covariance   [][]float64            `json:"covariance,omitempty"`
	Prices       [][]float64            `json:"prices,omitempty"`
	Budget       float64                `json:"budget"`
	SectorLimits map[string]SectorLimit `json:"sector_limits,omitempty"`
	Shots        int                    `json:"shots"`
}

// JobState is the lifecycle state of a tracked optimization job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// JobRecord tracks one optimization attempt from submission to terminal state.
type JobRecord struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}
