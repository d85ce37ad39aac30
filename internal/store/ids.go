package store

import (
	"strconv"
	"sync"
	"time"
)

// idGenerator hands out <prefix><epoch-millis> ids. A millisecond that is
// not after the last one issued is bumped forward, so ids never repeat
// within a process.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

func (g *idGenerator) next(prefix string, now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return prefix + strconv.FormatInt(ms, 10)
}
