package backend

import (
	"sync"
	"time"
)

// HealthTracker manages circuit breakers for all backends.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	failureThreshold int
	recoveryInterval time.Duration
}

func NewHealthTracker(failureThreshold int, recoveryInterval time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		recoveryInterval: recoveryInterval,
	}
}

// GetBreaker returns (or lazily creates) the circuit breaker for a backend.
func (ht *HealthTracker) GetBreaker(name string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[name]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.failureThreshold, ht.recoveryInterval)
	ht.breakers[name] = cb
	return cb
}

func (ht *HealthTracker) IsAvailable(name string) bool {
	return ht.GetBreaker(name).Allow()
}

func (ht *HealthTracker) RecordSuccess(name string) {
	ht.GetBreaker(name).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(name string) {
	ht.GetBreaker(name).RecordFailure()
}

func (ht *HealthTracker) Release(name string) {
	ht.GetBreaker(name).Release()
}

// States reports the circuit state of every backend seen so far.
func (ht *HealthTracker) States() map[string]string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]string, len(ht.breakers))
	for name, cb := range ht.breakers {
		out[name] = cb.State().String()
	}
	return out
}
