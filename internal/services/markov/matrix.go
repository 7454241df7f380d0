package markov

import (
	"sort"

	"QuantSync/internal/domain/models"
)

const numStates = 6

// Matrix stores raw transition counts and summed realized returns.
// Probabilities are derived on read.
type Matrix struct {
	counts  [numStates][numStates]int
	returns [numStates][numStates]float64
}

func (m *Matrix) Observe(from, to models.RegimeState, realizedReturn float64) {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 {
		return
	}
	m.counts[i][j]++
	m.returns[i][j] += realizedReturn
}

// load adds persisted counts on top of what is already in memory.
func (m *Matrix) load(from, to models.RegimeState, count int, returnSum float64) {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 || count <= 0 {
		return
	}
	m.counts[i][j] += count
	m.returns[i][j] += returnSum
}

// RowTotal is the number of transitions observed out of from.
func (m *Matrix) RowTotal(from models.RegimeState) int {
	i := from.Index()
	if i < 0 {
		return 0
	}
	n := 0
	for j := 0; j < numStates; j++ {
		n += m.counts[i][j]
	}
	return n
}

// Total is the number of transitions observed from any state.
func (m *Matrix) Total() int {
	n := 0
	for _, s := range models.RegimeStates {
		n += m.RowTotal(s)
	}
	return n
}

// Row returns the next-state distribution of from in canonical state order.
// An empty row yields all zeros.
func (m *Matrix) Row(from models.RegimeState) []float64 {
	out := make([]float64, numStates)
	n := m.RowTotal(from)
	if n == 0 {
		return out
	}
	i := from.Index()
	for j := 0; j < numStates; j++ {
		out[j] = float64(m.counts[i][j]) / float64(n)
	}
	return out
}

// MeanReturn is the average realized return over from->to transitions.
func (m *Matrix) MeanReturn(from, to models.RegimeState) float64 {
	i, j := from.Index(), to.Index()
	if i < 0 || j < 0 || m.counts[i][j] == 0 {
		return 0
	}
	return m.returns[i][j] / float64(m.counts[i][j])
}

// Ranked turns per-state weights into a distribution sorted by probability,
// ties broken by canonical state order.
func Ranked(weights []float64) []models.StateProbability {
	out := make([]models.StateProbability, 0, numStates)
	for j, w := range weights {
		out = append(out, models.StateProbability{State: models.RegimeStates[j], Probability: w})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Probability > out[b].Probability })
	return out
}
