package optimization

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// coeffEpsilon is the magnitude below which Hamiltonian terms are dropped
// to keep the Pauli representation sparse.
const coeffEpsilon = 1e-12

// IsingModel is the spin equivalent of a QUBO problem: linear coefficients
// h, an upper-triangular coupling matrix J and a scalar offset. Derived
// once from a QUBO and never mutated afterwards.
//
// Spin convention: z_i = 2x_i - 1, so bit 1 maps to spin +1.
type IsingModel struct {
	H      []float64
	J      *mat.Dense
	Offset float64
}

// ToIsing converts a QUBO problem to the equivalent spin model using the
// termwise binary-to-spin substitution. The symmetrized matrix is read
// with each unordered pair counted once; the resulting Hamiltonian equals
// the QUBO objective (including offset) on every assignment.
func ToIsing(q *QUBO) *IsingModel {
	n := q.NumAssets()
	m := &IsingModel{
		H:      make([]float64, n),
		J:      mat.NewDense(n, n, nil),
		Offset: q.Offset(),
	}

	for i := 0; i < n; i++ {
		qii := q.Matrix().At(i, i)
		m.H[i] += qii / 2.0
		m.Offset += qii / 2.0
		for j := i + 1; j < n; j++ {
			qij := (q.Matrix().At(i, j) + q.Matrix().At(j, i)) / 2.0
			m.H[i] += qij / 4.0
			m.H[j] += qij / 4.0
			m.J.Set(i, j, qij/4.0)
			m.Offset += qij / 4.0
		}
	}
	return m
}

// NumQubits returns the spin count.
func (m *IsingModel) NumQubits() int {
	return len(m.H)
}

// Energy evaluates the Hamiltonian, including the offset, on a spin
// assignment (values ±1).
func (m *IsingModel) Energy(spins []int) float64 {
	e := m.Offset
	n := len(m.H)
	for i := 0; i < n; i++ {
		e += m.H[i] * float64(spins[i])
		for j := i + 1; j < n; j++ {
			if c := m.J.At(i, j); c != 0 {
				e += c * float64(spins[i]*spins[j])
			}
		}
	}
	return e
}

// BitstringEnergy evaluates the Hamiltonian on a measured bitstring, where
// character i selects asset i.
func (m *IsingModel) BitstringEnergy(bitstring string) float64 {
	spins := make([]int, len(m.H))
	for i := range spins {
		spins[i] = -1
		if i < len(bitstring) && bitstring[i] == '1' {
			spins[i] = 1
		}
	}
	return m.Energy(spins)
}

// PauliTerm is one tensor-product term of a Hamiltonian: a label of I/Z
// characters (position i addresses qubit i) and a real coefficient.
type PauliTerm struct {
	Label       string
	Coefficient float64
}

// PauliOperator is an ordered weighted sum of Pauli terms. It is never
// empty: when nothing qualifies it holds a single zero-coefficient
// identity term, since downstream evaluation requires at least one term.
type PauliOperator struct {
	NumQubits int
	Terms     []PauliTerm
}

// ToPauli converts the spin model into a weighted sum of Pauli-Z tensor
// terms: one single-site Z per nonzero h_i, one two-site ZZ per nonzero
// J_ij, plus an identity term carrying the offset when non-negligible.
func (m *IsingModel) ToPauli() PauliOperator {
	n := len(m.H)
	op := PauliOperator{NumQubits: n}

	for i, coeff := range m.H {
		if abs(coeff) < coeffEpsilon {
			continue
		}
		label := []byte(strings.Repeat("I", n))
		label[i] = 'Z'
		op.Terms = append(op.Terms, PauliTerm{Label: string(label), Coefficient: coeff})
	}

	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			coeff := m.J.At(i, j)
			if abs(coeff) < coeffEpsilon {
				continue
			}
			label := []byte(strings.Repeat("I", n))
			label[i] = 'Z'
			label[j] = 'Z'
			op.Terms = append(op.Terms, PauliTerm{Label: string(label), Coefficient: coeff})
		}
	}

	if abs(m.Offset) >= coeffEpsilon {
		op.Terms = append(op.Terms, PauliTerm{Label: strings.Repeat("I", n), Coefficient: m.Offset})
	}

	if len(op.Terms) == 0 {
		op.Terms = append(op.Terms, PauliTerm{Label: strings.Repeat("I", n), Coefficient: 0})
	}
	return op
}

// BitstringEnergy evaluates the operator on a single bitstring. Each Z
// position contributes the spin 2x_i-1 of the addressed bit.
func (op PauliOperator) BitstringEnergy(bitstring string) float64 {
	var e float64
	for _, term := range op.Terms {
		prod := term.Coefficient
		for i := 0; i < len(term.Label); i++ {
			if term.Label[i] != 'Z' {
				continue
			}
			if i < len(bitstring) && bitstring[i] == '1' {
				prod *= 1
			} else {
				prod *= -1
			}
		}
		e += prod
	}
	return e
}

// Expectation computes the expected energy of the operator under a
// measurement distribution.
func (op PauliOperator) Expectation(dist Distribution) float64 {
	var e float64
	for bitstring, p := range dist {
		e += p * op.BitstringEnergy(bitstring)
	}
	return e
}

// selectBitstring picks the highest-probability bitstring from a
// distribution. Keys are visited in sorted order so ties break
// deterministically. An empty distribution defaults to the all-zero
// bitstring with probability 0.
func selectBitstring(dist Distribution, numQubits int) (string, float64) {
	if len(dist) == 0 {
		return strings.Repeat("0", numQubits), 0
	}
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := keys[0]
	for _, k := range keys[1:] {
		if dist[k] > dist[best] {
			best = k
		}
	}
	return best, dist[best]
}

// bitstringToWeights converts a measured bitstring into portfolio weights.
// An all-zero bitstring yields a uniform allocation; otherwise the bit
// vector is normalized to sum to one.
func bitstringToWeights(bitstring string) []float64 {
	n := len(bitstring)
	weights := make([]float64, n)
	if n == 0 {
		return weights
	}

	var sum float64
	for i := 0; i < n; i++ {
		if bitstring[i] == '1' {
			weights[i] = 1
			sum++
		}
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
