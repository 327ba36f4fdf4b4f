package core

import (
	"fmt"
	"sync"
)

// IterationLimiter bounds the number of iterations an agent run may take.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a limiter allowing max iterations.
// If max <= 0, unlimited iterations are allowed.
func NewIterationLimiter(max int) *IterationLimiter {
	return &IterationLimiter{max: max}
}

// Next takes one iteration and returns its 1-based index. It returns an error
// once the limit has been reached; the counter is not advanced in that case.
func (l *IterationLimiter) Next() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max > 0 && l.count >= l.max {
		return l.count, fmt.Errorf("exceeded max iterations: %d", l.max)
	}

	l.count++

	return l.count, nil
}

// Exhausted reports whether no iterations remain.
func (l *IterationLimiter) Exhausted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.max > 0 && l.count >= l.max
}

// Count returns the number of iterations taken so far.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Max returns the configured limit (0 means unlimited).
func (l *IterationLimiter) Max() int { return l.max }

// Remaining returns how many iterations are left before hitting the limit.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max <= 0 {
		return -1 // unlimited
	}

	return l.max - l.count
}
