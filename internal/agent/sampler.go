package agent

import (
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultSampleMin = 5
	DefaultSampleMax = 20
)

// Sampler draws a random subset for one step: shuffle the whole population, then take
// a prefix of length min+Intn(max-min), capped at the population size.
type Sampler struct {
	min, max int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler over [lo, hi). Non-positive bounds fall back to the
// defaults; hi <= lo always yields lo. A nil src is seeded from the clock.
func NewSampler(lo, hi int, src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if lo <= 0 {
		lo = DefaultSampleMin
	}
	if hi <= 0 {
		hi = DefaultSampleMax
	}
	return &Sampler{min: lo, max: hi, rng: rand.New(src)}
}

func (s *Sampler) Bounds() (int, int) { return s.min, s.max }

// Sample never mutates agents. It returns nil for an empty population.
func (s *Sampler) Sample(agents []Agent) []Agent {
	if len(agents) == 0 {
		return nil
	}
	out := append([]Agent(nil), agents...)

	s.mu.Lock()
	s.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	n := s.min
	if s.max > s.min {
		n += s.rng.Intn(s.max - s.min)
	}
	s.mu.Unlock()

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}
