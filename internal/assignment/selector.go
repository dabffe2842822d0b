package assignment

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// DefaultTopK is how many of the best agents share new work.
const DefaultTopK = 3

// Candidate is a scored, available agent.
type Candidate struct {
	WorkloadSnapshot
	Score float64 `json:"score"`
}

// Selector picks an agent uniformly among the top K scored snapshots. Drawing
// among several good agents instead of always the best one keeps a burst of
// cases from piling onto a single agent.
type Selector struct {
	topK int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector builds a selector. topK <= 0 falls back to DefaultTopK and a nil
// rng is seeded from the clock.
func NewSelector(topK int, rng *rand.Rand) *Selector {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &Selector{topK: topK, rng: rng}
}

// TopK returns the configured draw size.
func (s *Selector) TopK() int {
	return s.topK
}

// Select returns one agent from the top K. It fails with ErrNoAgentAvailable
// when no snapshot is available.
func (s *Selector) Select(snapshots []WorkloadSnapshot) (Candidate, error) {
	ranked := s.Rank(snapshots)
	if len(ranked) == 0 {
		return Candidate{}, ErrNoAgentAvailable
	}
	k := min(s.topK, len(ranked))

	s.mu.Lock()
	idx := s.rng.IntN(k)
	s.mu.Unlock()

	return ranked[idx], nil
}

// Rank scores the available snapshots, highest first. Equal scores come out
// in random order.
func (s *Selector) Rank(snapshots []WorkloadSnapshot) []Candidate {
	ranked := make([]Candidate, 0, len(snapshots))
	for _, snap := range snapshots {
		if !snap.IsAvailable {
			continue
		}
		ranked = append(ranked, Candidate{WorkloadSnapshot: snap, Score: Score(snap)})
	}

	s.mu.Lock()
	s.rng.Shuffle(len(ranked), func(i, j int) {
		ranked[i], ranked[j] = ranked[j], ranked[i]
	})
	s.mu.Unlock()

	slices.SortStableFunc(ranked, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return ranked
}
