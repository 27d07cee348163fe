package engine

import (
	"sync"
	"time"

	logx "socialsim/pkg/logx"
)

// circuitState counts consecutive failures for one task name. Once the count reaches
// the trip threshold the circuit opens for a cooldown that doubles per extra failure.
type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

// getLocked requires c.mu.
func (c *circuitStore) getLocked(key string) *circuitState {
	if c.m == nil {
		c.m = make(map[string]*circuitState)
	}
	st := c.m[key]
	if st == nil {
		st = &circuitState{}
		c.m[key] = st
	}
	return st
}

func (st *circuitState) maybeReset(now time.Time, resetAfter time.Duration) {
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (s *Service) circuitIsOpen(now time.Time, key string, cfg Config) (bool, time.Time) {
	if cfg.CircuitTripFailures <= 0 {
		return false, time.Time{}
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(key)
	st.maybeReset(now, cfg.CircuitResetAfter)
	if now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (s *Service) circuitRecordResult(now time.Time, key string, cfg Config, err error) {
	if cfg.CircuitTripFailures <= 0 {
		return
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	st := s.circuits.getLocked(key)
	st.maybeReset(now, cfg.CircuitResetAfter)

	if err == nil {
		*st = circuitState{}
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < cfg.CircuitTripFailures {
		return
	}
	d := cfg.CircuitBaseDelay
	for i := cfg.CircuitTripFailures; i < st.fails && d < cfg.CircuitMaxDelay; i++ {
		d *= 2
	}
	st.openUntil = now.Add(min(d, cfg.CircuitMaxDelay))
	s.log.Warn("circuit opened", logx.String("task", key), logx.Int("fails", st.fails), logx.Time("until", st.openUntil))
}

func (s *Service) circuitOpenCount(now time.Time, cfg Config) int {
	if cfg.CircuitTripFailures <= 0 {
		return 0
	}
	s.circuits.mu.Lock()
	defer s.circuits.mu.Unlock()
	n := 0
	for _, st := range s.circuits.m {
		if now.Before(st.openUntil) {
			n++
		}
	}
	return n
}
