package optimization

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// QUBO is a quadratic unconstrained binary optimization problem: an N×N
// real matrix plus a scalar offset.
//
// The matrix is mutated in place as constraint penalty terms are added.
// Each penalty only touches its own diagonal and pairwise terms, so
// additions are commutative and order-independent. Penalties are additive
// across calls: applying the same constraint twice doubles its
// contribution. Callers compose penalties explicitly.
type QUBO struct {
	n      int
	matrix *mat.Dense
	offset float64
}

// NewQUBO creates an empty QUBO problem for n assets.
func NewQUBO(n int) (*QUBO, error) {
	if n < MinAssets || n > MaxAssets {
		return nil, fmt.Errorf("%w: QUBO supports between %d and %d assets, got %d",
			ErrInvalidInput, MinAssets, MaxAssets, n)
	}
	return &QUBO{
		n:      n,
		matrix: mat.NewDense(n, n, nil),
	}, nil
}

// NumAssets returns the problem dimension.
func (q *QUBO) NumAssets() int {
	return q.n
}

// Matrix returns the underlying QUBO matrix.
func (q *QUBO) Matrix() *mat.Dense {
	return q.matrix
}

// Offset returns the accumulated constant offset.
func (q *QUBO) Offset() float64 {
	return q.offset
}

// Compile converts a Markowitz mean-variance model into the base QUBO
// matrix: -2(1-λ)·diag(returns) + 2λ·(C+Cᵗ)/2. Any previously accumulated
// offset is reset to zero.
//
// riskAversion λ ∈ [0,1] controls the trade-off between maximizing return
// and minimizing risk; higher values emphasize risk.
func (q *QUBO) Compile(returns []float64, covariance [][]float64, riskAversion float64) error {
	if len(returns) != q.n {
		return fmt.Errorf("%w: expected %d returns, got %d", ErrInvalidInput, q.n, len(returns))
	}
	if len(covariance) != q.n {
		return fmt.Errorf("%w: covariance matrix must be %dx%d", ErrInvalidInput, q.n, q.n)
	}
	for i := range covariance {
		if len(covariance[i]) != q.n {
			return fmt.Errorf("%w: covariance matrix row %d has size %d, expected %d",
				ErrInvalidInput, i, len(covariance[i]), q.n)
		}
	}
	if riskAversion < 0 || riskAversion > 1 {
		return fmt.Errorf("%w: risk aversion must be between 0 and 1, got %g",
			ErrInvalidInput, riskAversion)
	}

	for i := 0; i < q.n; i++ {
		for j := 0; j < q.n; j++ {
			symCov := (covariance[i][j] + covariance[j][i]) / 2.0
			v := 2 * riskAversion * symCov
			if i == j {
				v += -2 * (1 - riskAversion) * returns[i]
			}
			q.matrix.Set(i, j, v)
		}
	}
	q.offset = 0
	return nil
}

// AddBudgetConstraint adds the quadratic penalty
// penaltyWeight·(Σx - budget)² driving the number of selected assets
// toward budget: +w·11ᵗ on the matrix, -2wB on the diagonal, +wB² on the
// offset.
func (q *QUBO) AddBudgetConstraint(penaltyWeight, budget float64) {
	for i := 0; i < q.n; i++ {
		for j := 0; j < q.n; j++ {
			q.matrix.Set(i, j, q.matrix.At(i, j)+penaltyWeight)
		}
		q.matrix.Set(i, i, q.matrix.At(i, i)-2*penaltyWeight*budget)
	}
	q.offset += penaltyWeight * budget * budget
}

// AddDiversificationConstraints applies sector penalties: for each named
// sector with member set S and maximum M it adds +w·1_S1_Sᵗ to the matrix,
// -2wM on the diagonal over S, and +wM² to the offset. A nil or empty map
// is a no-op.
func (q *QUBO) AddDiversificationConstraints(sectorLimits map[string]SectorLimit, penaltyWeight float64) error {
	if len(sectorLimits) == 0 {
		return nil
	}

	// Sorted sector iteration keeps log output stable; the penalty math is
	// order-independent either way.
	sectors := make([]string, 0, len(sectorLimits))
	for name := range sectorLimits {
		sectors = append(sectors, name)
	}
	sort.Strings(sectors)

	for _, sector := range sectors {
		limit := sectorLimits[sector]
		if limit.Assets == nil || limit.Max == nil {
			return fmt.Errorf("%w: sector %s must define assets and max", ErrInvalidConstraint, sector)
		}
		for _, idx := range limit.Assets {
			if idx < 0 || idx >= q.n {
				return fmt.Errorf("%w: sector %s index %d out of range [0,%d)",
					ErrInvalidConstraint, sector, idx, q.n)
			}
		}

		maxAssets := float64(*limit.Max)
		for _, i := range limit.Assets {
			for _, j := range limit.Assets {
				q.matrix.Set(i, j, q.matrix.At(i, j)+penaltyWeight)
			}
			q.matrix.Set(i, i, q.matrix.At(i, i)-2*penaltyWeight*maxAssets)
		}
		q.offset += penaltyWeight * maxAssets * maxAssets
	}
	return nil
}

// Value evaluates the QUBO objective on a binary assignment, counting each
// unordered pair once with the symmetrized coefficient and including the
// accumulated offset. Used to verify equivalence with the derived spin
// model.
func (q *QUBO) Value(bits []int) float64 {
	v := q.offset
	for i := 0; i < q.n; i++ {
		if bits[i] != 0 {
			v += q.matrix.At(i, i)
		}
		for j := i + 1; j < q.n; j++ {
			if bits[i] != 0 && bits[j] != 0 {
				v += (q.matrix.At(i, j) + q.matrix.At(j, i)) / 2.0
			}
		}
	}
	return v
}
