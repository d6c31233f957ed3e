package download

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errStalled = errors.New("no data received")

// readWatchdog scopes one request. Its context is canceled when no data arrived for the read timeout or when
// cancel is requested on the task's control, which unblocks a read stuck on a stalled server.
type readWatchdog struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	timer   *time.Timer
	timeout time.Duration
}

func newReadWatchdog(parent context.Context, ctl *Control, timeout time.Duration) *readWatchdog {
	ctx, cancel := context.WithCancelCause(parent)
	w := &readWatchdog{ctx: ctx, cancel: cancel, timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() { cancel(errStalled) })
	if canceled := ctl.Canceled(); canceled != nil {
		go func() {
			select {
			case <-canceled:
				cancel(ErrCanceled)
			case <-ctx.Done():
			}
		}()
	}
	return w
}

// suspend stops the idle timer, e.g. while the transfer is paused.
func (w *readWatchdog) suspend() {
	w.timer.Stop()
}

// touch restarts the idle timer after data arrived.
func (w *readWatchdog) touch() {
	w.timer.Reset(w.timeout)
}

func (w *readWatchdog) close() {
	w.timer.Stop()
	w.cancel(nil)
}

// wrap translates err into ErrCanceled or a retryable timeout when the watchdog caused it.
func (w *readWatchdog) wrap(op string, err error) error {
	cause := context.Cause(w.ctx)
	switch {
	case errors.Is(cause, ErrCanceled):
		return ErrCanceled
	case errors.Is(cause, errStalled):
		return &TransportError{Op: op, Err: fmt.Errorf("%w for %s: %w", errStalled, w.timeout, context.DeadlineExceeded)}
	}
	return &TransportError{Op: op, Err: err}
}
