package dispatch

import (
	"sync/atomic"
	"time"
)

// Timer is a scheduled task that can be stopped.
type Timer interface {
	Stop() bool
}

// Scheduler runs f on its own goroutine after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Handle is a delayed task that can be cancelled any number of times.
type Handle struct {
	timer     Timer
	cancelled atomic.Bool
	fired     atomic.Bool
}

// Cancel stops the task. Cancelling a fired or cancelled task is a no-op.
func (h *Handle) Cancel() {
	if h.cancelled.Swap(true) {
		return
	}
	if h.timer != nil {
		h.timer.Stop()
	}
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// claim marks the task as fired. It returns false if the task was cancelled
// or already fired.
func (h *Handle) claim() bool {
	if h.cancelled.Load() {
		return false
	}
	return !h.fired.Swap(true)
}
