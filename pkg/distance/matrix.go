package distance

// Insufficient marks a pair that shares fewer loci than the configured minimum.
const Insufficient = -1

// Matrix is a symmetric sample x sample distance matrix stored as its upper
// triangle. The diagonal is always 0.
type Matrix struct {
	samples []string
	values  []int32
	shared  []int32
}

func newMatrix(samples []string) *Matrix {
	n := len(samples)
	size := n * (n - 1) / 2
	return &Matrix{
		samples: samples,
		values:  make([]int32, size),
		shared:  make([]int32, size),
	}
}

func (m *Matrix) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	n := len(m.samples)
	return i*n - i*(i+1)/2 + (j - i - 1)
}

func (m *Matrix) Samples() []string { return m.samples }

func (m *Matrix) Len() int { return len(m.samples) }

// At returns the distance between samples i and j; ok is false for pairs
// below the shared loci threshold.
func (m *Matrix) At(i, j int) (int, bool) {
	if i == j {
		return 0, true
	}
	v := m.values[m.index(i, j)]
	if v == Insufficient {
		return 0, false
	}
	return int(v), true
}

// SharedLoci is the number of loci both samples have an allele for.
func (m *Matrix) SharedLoci(i, j int) int {
	if i == j {
		return 0
	}
	return int(m.shared[m.index(i, j)])
}

func (m *Matrix) set(i, j, value, shared int) {
	k := m.index(i, j)
	m.values[k] = int32(value)
	m.shared[k] = int32(shared)
}
