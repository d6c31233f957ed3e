package download

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Control carries the cancel and pause requests for one running task. The orchestrator writes, the transfer
// reads at every chunk boundary.
type Control struct {
	cancel atomic.Bool
	pause  atomic.Bool

	mu       sync.Mutex
	canceled chan struct{}
}

func NewControl() *Control {
	return &Control{}
}

func (c *Control) RequestCancel() {
	c.cancel.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled == nil {
		c.canceled = make(chan struct{})
	}
	select {
	case <-c.canceled:
	default:
		close(c.canceled)
	}
}

// Canceled returns a channel that is closed once cancel was requested. It lets a transfer blocked on the
// network give up without waiting for the next chunk boundary.
func (c *Control) Canceled() <-chan struct{} {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled == nil {
		c.canceled = make(chan struct{})
	}
	return c.canceled
}

// TogglePause flips the pause request and returns the new state.
func (c *Control) TogglePause() bool {
	for {
		old := c.pause.Load()
		if c.pause.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (c *Control) CancelRequested() bool {
	return c.cancel.Load()
}

func (c *Control) PauseRequested() bool {
	return c.pause.Load()
}

// checkpoint is called before every chunk read. It returns ErrCanceled once cancel was requested and blocks,
// with the task marked Paused, for as long as a pause is requested.
func (c *Control) checkpoint(ctx context.Context, task *Task, poll time.Duration) error {
	if c == nil {
		return nil
	}
	if c.CancelRequested() {
		return ErrCanceled
	}
	if !c.PauseRequested() {
		return nil
	}

	task.transition(StatusPaused)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for c.PauseRequested() {
		if c.CancelRequested() {
			return ErrCanceled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	task.transition(StatusRunning)
	if c.CancelRequested() {
		return ErrCanceled
	}
	return nil
}
