package classifier

import (
	"math/rand/v2"
	"sync"
)

// Rand is the random source for heuristic confidence values.
type Rand interface {
	Float64() float64
}

// LockedRand wraps math/rand/v2.Rand for concurrent use.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewLockedRand(r *rand.Rand) *LockedRand {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &LockedRand{r: r}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
