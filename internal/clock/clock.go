package clock

import (
	"sync"
	"time"
)

// Clock is the node's source of wall time.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Manual is a settable clock for tests and deterministic replays.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(at time.Time) *Manual { return &Manual{now: at.UTC()} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(at time.Time) {
	m.mu.Lock()
	m.now = at.UTC()
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}
