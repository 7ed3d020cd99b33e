package throttle

import (
	"context"
	"sync"
	"time"
)

// Well-known throttle names inside a Set.
const (
	ServerGlobal        = "server_global"
	ServerPerConnection = "server_per_connection"
	UserGlobal          = "user_global"
	UserPerConnection   = "user_per_connection"
)

// Set is a named collection of StreamThrottles that is safe for concurrent
// use. A command connection and its data connections share one Set, so
// throttles added after login apply to both.
type Set struct {
	mu        sync.RWMutex
	throttles map[string]StreamThrottle
}

// NewSet creates a set from the given named throttles.
func NewSet(named map[string]StreamThrottle) *Set {
	s := &Set{throttles: make(map[string]StreamThrottle, len(named))}
	for name, st := range named {
		s.throttles[name] = st
	}
	return s
}

// Put adds or replaces a named throttle.
func (s *Set) Put(name string, st StreamThrottle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttles[name] = st
}

// Get returns a named throttle.
func (s *Set) Get(name string) (StreamThrottle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.throttles[name]
	return st, ok
}

// WaitRead accounts n read bytes in every member and waits for the slowest.
func (s *Set) WaitRead(ctx context.Context, n int) error {
	return s.wait(ctx, n, func(st StreamThrottle) *Throttle { return st.Read })
}

// WaitWrite accounts n written bytes in every member and waits for the slowest.
func (s *Set) WaitWrite(ctx context.Context, n int) error {
	return s.wait(ctx, n, func(st StreamThrottle) *Throttle { return st.Write })
}

func (s *Set) wait(ctx context.Context, n int, pick func(StreamThrottle) *Throttle) error {
	if s == nil {
		return nil
	}
	now := time.Now()
	var longest time.Duration

	s.mu.RLock()
	for _, st := range s.throttles {
		t := pick(st)
		if t == nil {
			continue
		}
		if d := t.reserve(now, n); d > longest {
			longest = d
		}
	}
	s.mu.RUnlock()

	return sleep(ctx, longest)
}
