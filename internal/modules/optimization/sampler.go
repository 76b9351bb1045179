package optimization

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
)

// Circuit describes one variational ansatz execution: alternating
// phase-separation (gamma) and mixing (beta) layers applied to the cost
// Hamiltonian of the given spin model.
type Circuit struct {
	NumQubits int
	Gammas    []float64
	Betas     []float64
	Ising     *IsingModel
}

// Sampler is the opaque quantum sampling capability: given a circuit
// description and a shot count, return a probability distribution over
// measured bitstrings.
type Sampler interface {
	Sample(ctx context.Context, circuit Circuit, shots int) (Distribution, error)
}

// probabilityFloor prunes negligible outcomes from exact distributions so
// the result map stays proportional to the support, not to 2^N.
const probabilityFloor = 1e-9

// ReferenceSampler is the exact local simulator used as the last fallback
// tier. It evolves the full statevector, so distributions are exact and
// the shot count only documents caller intent.
//
// The phase-separation layer is diagonal in the computational basis and
// the mixing layer factorizes per qubit, which keeps simulation at
// O(layers·N·2^N), fast enough for N ≤ 20.
type ReferenceSampler struct{}

// NewReferenceSampler creates the exact local reference sampler.
func NewReferenceSampler() *ReferenceSampler {
	return &ReferenceSampler{}
}

// Sample simulates the circuit and returns the exact outcome distribution.
func (s *ReferenceSampler) Sample(ctx context.Context, circuit Circuit, shots int) (Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := circuit.NumQubits
	if n < 1 || n > MaxAssets {
		return nil, fmt.Errorf("%w: reference sampler supports 1-%d qubits, got %d",
			ErrInvalidInput, MaxAssets, n)
	}
	if len(circuit.Gammas) != len(circuit.Betas) {
		return nil, fmt.Errorf("%w: gamma and beta layer counts differ", ErrInvalidInput)
	}
	if circuit.Ising == nil || circuit.Ising.NumQubits() != n {
		return nil, fmt.Errorf("%w: circuit spin model does not match qubit count", ErrInvalidInput)
	}

	dim := 1 << n

	// Cost energies are diagonal; precompute once per call. The global
	// offset only rotates a global phase and is skipped.
	energies := make([]float64, dim)
	spins := make([]int, n)
	for z := 0; z < dim; z++ {
		for i := 0; i < n; i++ {
			spins[i] = -1
			if z&(1<<i) != 0 {
				spins[i] = 1
			}
		}
		energies[z] = circuit.Ising.Energy(spins) - circuit.Ising.Offset
	}

	// Uniform superposition from the initial Hadamard wall.
	state := make([]complex128, dim)
	amp := complex(1.0/math.Sqrt(float64(dim)), 0)
	for z := range state {
		state[z] = amp
	}

	for layer := range circuit.Gammas {
		gamma := circuit.Gammas[layer]
		beta := circuit.Betas[layer]

		for z := 0; z < dim; z++ {
			state[z] *= cmplx.Exp(complex(0, -gamma*energies[z]))
		}

		// RX(2β) on every qubit.
		cosB := complex(math.Cos(beta), 0)
		sinB := complex(0, -math.Sin(beta))
		for q := 0; q < n; q++ {
			mask := 1 << q
			for z := 0; z < dim; z++ {
				if z&mask != 0 {
					continue
				}
				a0 := state[z]
				a1 := state[z|mask]
				state[z] = cosB*a0 + sinB*a1
				state[z|mask] = sinB*a0 + cosB*a1
			}
		}
	}

	dist := make(Distribution)
	for z := 0; z < dim; z++ {
		p := real(state[z])*real(state[z]) + imag(state[z])*imag(state[z])
		if p < probabilityFloor {
			continue
		}
		dist[indexToBitstring(z, n)] = p
	}
	return dist, nil
}

// indexToBitstring renders a basis-state index with character i holding
// the bit of qubit i.
func indexToBitstring(z, n int) string {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = '0'
		if z&(1<<i) != 0 {
			buf[i] = '1'
		}
	}
	return string(buf)
}
