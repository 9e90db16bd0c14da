package supervisor

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// agentSem bounds one logical agent's in-flight process count with a
// weighted semaphore sized to its configured maxConcurrent, alongside a
// plain counter for diagnostics since semaphore.Weighted exposes no way to
// read back its current count.
type agentSem struct {
	max int
	sem *semaphore.Weighted // nil when max <= 0 (unlimited)

	mu     sync.Mutex
	active int
}

// concurrency tracks how many processes are currently running per logical
// agent name, enforcing each agent's configured maxConcurrent ceiling.
type concurrency struct {
	mu   sync.Mutex
	sems map[string]*agentSem
}

func newConcurrency() *concurrency {
	return &concurrency{sems: make(map[string]*agentSem)}
}

func (c *concurrency) agentSemFor(agent string, max int) *agentSem {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sems[agent]
	if !ok || s.max != max {
		s = &agentSem{max: max}
		if max > 0 {
			s.sem = semaphore.NewWeighted(int64(max))
		}
		c.sems[agent] = s
	}
	return s
}

// tryAcquire increments the agent's active count and reports true, unless
// max is positive and already reached, in which case it reports false
// without mutating state.
func (c *concurrency) tryAcquire(agent string, max int) bool {
	s := c.agentSemFor(agent, max)
	if s.sem != nil && !s.sem.TryAcquire(1) {
		return false
	}
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
	return true
}

func (c *concurrency) release(agent string) {
	c.mu.Lock()
	s, ok := c.sems[agent]
	c.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	s.mu.Unlock()
	if s.sem != nil {
		s.sem.Release(1)
	}
}

// snapshot returns a copy of the active-count map for diagnostics.
func (c *concurrency) snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.sems))
	for agent, s := range c.sems {
		s.mu.Lock()
		out[agent] = s.active
		s.mu.Unlock()
	}
	return out
}
