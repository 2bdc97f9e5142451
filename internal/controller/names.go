package controller

import (
	"fmt"
	"sync"
	"time"
)

// nameGenerator mints unique job names from a nanosecond clock. The
// clock is forced strictly monotonic under the lock, so concurrent
// submitters never mint the same name even within one clock tick.
type nameGenerator struct {
	mu     sync.Mutex
	prefix string
	last   int64
}

func newNameGenerator(prefix string) *nameGenerator {
	return &nameGenerator{prefix: prefix}
}

func (g *nameGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= g.last {
		now = g.last + 1
	}
	g.last = now
	return fmt.Sprintf("%s-%d", g.prefix, now)
}
