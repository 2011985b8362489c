// Package clock provides the kernel's view of the hardware timer: a
// monotonic tick counter shared by all harts and one timeout register per
// hart.
package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the timer collaborator consumed by the scheduler.
type Clock interface {
	// Now returns the current tick.
	Now() uint64
	// WaitUntil blocks until Now() >= t or ctx is done.
	WaitUntil(ctx context.Context, t uint64) error
	// SetTimeout programs hart's timer to fire at tick t.
	SetTimeout(hart int, t uint64)
	// Timeout returns hart's programmed deadline.
	Timeout(hart int) uint64
}

// Expired reports whether hart's deadline has passed.
func Expired(c Clock, hart int) bool {
	return c.Now() >= c.Timeout(hart)
}

type timeouts struct {
	deadline []atomic.Uint64
}

func newTimeouts(harts int) timeouts {
	t := timeouts{deadline: make([]atomic.Uint64, harts)}
	for i := range t.deadline {
		t.deadline[i].Store(^uint64(0))
	}
	return t
}

func (t *timeouts) SetTimeout(hart int, at uint64) { t.deadline[hart].Store(at) }
func (t *timeouts) Timeout(hart int) uint64        { return t.deadline[hart].Load() }

// Manual is a clock that only moves when told to. With auto-advance
// enabled, WaitUntil jumps the clock forward instead of blocking, which
// turns the scheduler into a discrete-event simulation.
//
// Thread-safety: all methods are safe for concurrent use.
type Manual struct {
	timeouts
	mu      sync.Mutex
	now     uint64
	changed chan struct{}
	auto    bool
}

// NewManual creates a manual clock at tick 0 for the given number of harts.
func NewManual(harts int) *Manual {
	return &Manual{timeouts: newTimeouts(harts), changed: make(chan struct{})}
}

// NewVirtual creates a manual clock with auto-advance enabled.
func NewVirtual(harts int) *Manual {
	m := NewManual(harts)
	m.auto = true
	return m
}

func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d ticks and wakes waiters.
func (m *Manual) Advance(d uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(m.now + d)
}

// Set moves the clock to t if t is in the future.
func (m *Manual) Set(t uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(t)
}

func (m *Manual) setLocked(t uint64) uint64 {
	if t > m.now {
		m.now = t
		close(m.changed)
		m.changed = make(chan struct{})
	}
	return m.now
}

func (m *Manual) WaitUntil(ctx context.Context, t uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		if m.now >= t {
			m.mu.Unlock()
			return nil
		}
		if m.auto {
			m.setLocked(t)
			m.mu.Unlock()
			return nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// NowFunc returns the current wall time. Override in tests.
var NowFunc = time.Now

// Wall derives ticks from wall time: one tick per Tick since the clock was
// created.
type Wall struct {
	timeouts
	start time.Time
	tick  time.Duration
}

// NewWall creates a wall clock with the given tick length.
func NewWall(harts int, tick time.Duration) *Wall {
	return &Wall{timeouts: newTimeouts(harts), start: NowFunc(), tick: tick}
}

func (w *Wall) Now() uint64 {
	return uint64(NowFunc().Sub(w.start) / w.tick)
}

func (w *Wall) WaitUntil(ctx context.Context, t uint64) error {
	for {
		now := w.Now()
		if now >= t {
			return nil
		}
		timer := time.NewTimer(time.Duration(t-now) * w.tick)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
