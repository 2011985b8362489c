package sim

import (
	"context"
	"sync"

	"github.com/roach88/s3k/internal/clock"
)

// horizon wraps a clock so that waiting past a fixed tick stops the run.
// A virtual clock jumps to whatever tick is waited for, so the run's end
// has to be enforced at the wait rather than by a timer.
type horizon struct {
	clock.Clock

	mu     sync.Mutex
	until  uint64
	cancel context.CancelFunc
}

func (h *horizon) arm(until uint64, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.until, h.cancel = until, cancel
}

func (h *horizon) disarm() {
	h.arm(0, nil)
}

func (h *horizon) WaitUntil(ctx context.Context, t uint64) error {
	h.mu.Lock()
	until, cancel := h.until, h.cancel
	h.mu.Unlock()

	if until > 0 && t >= until {
		cancel()
		return context.Canceled
	}
	return h.Clock.WaitUntil(ctx, t)
}
