package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("https://example.test/a.pdf", "a.pdf", "/tmp/a.pdf")
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusQueued, task.Status())
	assert.Equal(t, UnknownSize, task.Total())

	require.True(t, task.Start())
	assert.True(t, task.transition(StatusPaused))
	assert.True(t, task.transition(StatusRunning))
	assert.True(t, task.Finish(StatusCompleted, nil))

	// terminal states are final
	assert.False(t, task.transition(StatusRunning))
	assert.False(t, task.Finish(StatusFailed, errors.New("late")))
	snap := task.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Empty(t, snap.LastError)
	assert.False(t, snap.Start.IsZero())
	assert.False(t, snap.End.IsZero())
}

func TestTaskIllegalTransitionsIgnored(t *testing.T) {
	task := NewTask("https://example.test/a.pdf", "a.pdf", "/tmp/a.pdf")
	assert.False(t, task.transition(StatusPaused))
	assert.False(t, task.Finish(StatusCompleted, nil))
	assert.False(t, task.Finish(StatusRunning, nil))
	assert.Equal(t, StatusQueued, task.Status())
	assert.True(t, task.Snapshot().End.IsZero())
}

func TestTaskCounters(t *testing.T) {
	task := NewTask("https://example.test/a.pdf", "a.pdf", "/tmp/a.pdf")
	task.SetTotal(0)
	assert.Equal(t, UnknownSize, task.Total())
	task.SetTotal(100)
	assert.EqualValues(t, 40, task.AddBytes(40))
	assert.EqualValues(t, 100, task.AddBytes(60))

	err := errors.New("boom")
	assert.Equal(t, 1, task.RecordError(err))
	assert.Equal(t, 2, task.RecordError(err))
	task.Start()
	task.Finish(StatusFailed, nil)

	snap := task.Snapshot()
	assert.Equal(t, 2, snap.Errors)
	assert.Equal(t, "boom", snap.LastError)
	assert.EqualValues(t, 100, snap.Bytes)
}

func TestSnapshotDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{Bytes: 2048, Start: start, End: start.Add(2 * time.Second)}
	assert.Equal(t, 2*time.Second, snap.Duration())
	assert.InDelta(t, 1024, snap.Throughput(), 0.001)
	assert.Zero(t, Snapshot{Start: start}.Duration())
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(10, UnknownSize))
	assert.Equal(t, 0, Percent(0, 100))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 99, Percent(999, 1000))
	assert.Equal(t, 100, Percent(1000, 1000))
	assert.Equal(t, 100, Percent(1200, 1000))
}

func TestControlTogglePause(t *testing.T) {
	ctl := NewControl()
	assert.True(t, ctl.TogglePause())
	assert.True(t, ctl.PauseRequested())
	assert.False(t, ctl.TogglePause())
	assert.False(t, ctl.PauseRequested())
	assert.False(t, ctl.CancelRequested())
	ctl.RequestCancel()
	assert.True(t, ctl.CancelRequested())
}

func TestCheckpointPauseAndResume(t *testing.T) {
	task := NewTask("https://example.test/a.pdf", "a.pdf", "/tmp/a.pdf")
	task.Start()
	ctl := NewControl()
	ctl.TogglePause()

	done := make(chan error, 1)
	go func() { done <- ctl.checkpoint(context.Background(), task, time.Millisecond) }()

	require.Eventually(t, func() bool { return task.Status() == StatusPaused }, time.Second, time.Millisecond)
	ctl.TogglePause()
	require.NoError(t, <-done)
	assert.Equal(t, StatusRunning, task.Status())
}

func TestCheckpointCancelWhilePaused(t *testing.T) {
	task := NewTask("https://example.test/a.pdf", "a.pdf", "/tmp/a.pdf")
	task.Start()
	ctl := NewControl()
	ctl.TogglePause()

	done := make(chan error, 1)
	go func() { done <- ctl.checkpoint(context.Background(), task, time.Millisecond) }()

	require.Eventually(t, func() bool { return task.Status() == StatusPaused }, time.Second, time.Millisecond)
	ctl.RequestCancel()
	assert.ErrorIs(t, <-done, ErrCanceled)
}

func TestCheckpointNilControl(t *testing.T) {
	var ctl *Control
	assert.NoError(t, ctl.checkpoint(context.Background(), nil, time.Millisecond))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrCanceled))
	assert.False(t, IsRetryable(ErrInvalidPlan))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(ErrUnexpectedHTTPStatus(503, "https://example.test/a.pdf")))
	assert.True(t, IsRetryable(&TransportError{Op: "read", Err: errors.New("reset")}))
	assert.True(t, IsRetryable(&PermissionError{Path: "/tmp/a.pdf"}))
}
