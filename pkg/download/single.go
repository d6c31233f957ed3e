package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/linkstorm/linkstorm/pkg/consumer"
	"github.com/linkstorm/linkstorm/pkg/logging"
)

// SingleStream downloads a task over one connection, appending to the destination. Failed attempts are
// retried with exponential backoff and resume from the bytes already written.
type SingleStream struct {
	Client   HTTPClient
	Options  Options
	Observer Observer

	// sleep waits between attempts, tests replace it to observe the backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// Run drives task to a terminal status. It returns nil for Completed, ErrCanceled for Canceled and the last
// attempt's error for Failed.
func (s *SingleStream) Run(ctx context.Context, task *Task, ctl *Control) error {
	logger := logging.GetLogger()
	opts := s.Options.withDefaults()
	obs := s.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	task.Start()
	task.setStrategy(StrategySingle)
	progress := newProgressReporter(task, obs, opts.ProgressRate)

	existing, complete, err := CheckResume(task.Dest, task.Total(), opts.Resume)
	if err != nil {
		return s.fail(task, obs, err)
	}
	task.SetBytes(existing)
	if complete {
		msg := fmt.Sprintf("File %s already downloaded, skipping.", task.FileName)
		logger.Info().Str("dest", task.Dest).Str("size", humanize.Bytes(uint64(existing))).Msg(msg)
		obs.Log(msg)
		progress.force(100)
		task.Finish(StatusCompleted, nil)
		return nil
	}
	if existing > 0 {
		msg := fmt.Sprintf("Resuming %s from %s.", task.FileName, humanize.Bytes(uint64(existing)))
		logger.Info().Str("url", task.URL).Int64("offset", existing).Msg(msg)
		obs.Log(msg)
	}

	chunkSize := opts.ChunkSize
	startTime := time.Now()
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		err := s.attempt(ctx, task, ctl, progress, opts, &chunkSize)
		if err == nil {
			s.complete(task, obs, progress, startTime)
			return nil
		}
		if errors.Is(err, ErrCanceled) || ctx.Err() != nil {
			return s.cancel(task, obs)
		}
		lastErr = err
		task.RecordError(err)
		if !IsRetryable(err) || attempt == opts.MaxRetries {
			break
		}

		wait := Backoff(opts.InitialBackoff, opts.MaxBackoff, attempt)
		msg := fmt.Sprintf("Error downloading %s: %v. Retrying %d of %d after %s.",
			task.FileName, err, attempt+1, opts.MaxRetries, wait)
		logger.Warn().Err(err).Str("url", task.URL).Int("attempt", attempt+1).Dur("backoff", wait).Msg("Retrying")
		obs.Log(msg)
		if err := sleep(ctx, wait); err != nil {
			return s.cancel(task, obs)
		}
	}
	return s.fail(task, obs, lastErr)
}

func (s *SingleStream) attempt(ctx context.Context, task *Task, ctl *Control, progress *progressReporter, opts Options, chunkSize *int) error {
	logger := logging.GetLogger()
	offset := task.Bytes()

	watchdog := newReadWatchdog(ctx, ctl, opts.ReadTimeout)
	defer watchdog.close()
	req, err := http.NewRequestWithContext(watchdog.ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", task.URL, err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return watchdog.wrap("connect", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			logger.Warn().Str("url", task.URL).Int64("offset", offset).Msg("Server ignored range request, restarting")
			offset = 0
			task.SetBytes(0)
			progress.reset()
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 && task.Total() == UnknownSize:
		// nothing left past offset
		return nil
	default:
		return ErrUnexpectedHTTPStatus(resp.StatusCode, task.URL)
	}
	if task.Total() == UnknownSize && resp.ContentLength > 0 {
		task.SetTotal(offset + resp.ContentLength)
	}

	out, err := consumer.OpenFileWriter(task.Dest, offset)
	if err != nil {
		return wrapWriteErr(task.Dest, err)
	}
	defer out.Close()

	total := task.Total()
	var body io.Reader = resp.Body
	if total > 0 {
		body = io.LimitReader(resp.Body, total-offset)
	}
	buf := make([]byte, MaxReadSize)
	for {
		watchdog.suspend()
		if err := ctl.checkpoint(ctx, task, opts.PausePoll); err != nil {
			return err
		}
		watchdog.touch()
		n, elapsed, readErr := ReadChunk(body, buf[:*chunkSize])
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return wrapWriteErr(task.Dest, err)
			}
			progress.update(task.AddBytes(int64(n)))
			*chunkSize = NextChunkSize(*chunkSize, elapsed, opts.AdaptiveThreshold)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return watchdog.wrap("read", readErr)
		}
	}
	if err := out.Close(); err != nil {
		return wrapWriteErr(task.Dest, err)
	}
	if total > 0 && task.Bytes() < total {
		return &TransportError{Op: "read", Err: fmt.Errorf("stream ended at %d of %d bytes: %w", task.Bytes(), total, io.ErrUnexpectedEOF)}
	}
	return nil
}

func (s *SingleStream) complete(task *Task, obs Observer, progress *progressReporter, startTime time.Time) {
	logger := logging.GetLogger()
	size := task.Bytes()
	elapsed := time.Since(startTime)
	logger.Info().Str("url", task.URL).
		Str("dest", task.Dest).
		Str("size", humanize.Bytes(uint64(size))).
		Str("elapsed", fmt.Sprintf("%.3fs", elapsed.Seconds())).
		Str("throughput", Throughput(size, elapsed)).
		Msg("Complete")
	obs.Log(fmt.Sprintf("Download completed: %s", task.FileName))
	progress.force(100)
	task.Finish(StatusCompleted, nil)
}

func (s *SingleStream) cancel(task *Task, obs Observer) error {
	logger := logging.GetLogger()
	logger.Info().Str("url", task.URL).Msg("Canceled")
	obs.Log(fmt.Sprintf("Download canceled for %s.", task.FileName))
	task.Finish(StatusCanceled, nil)
	return ErrCanceled
}

func (s *SingleStream) fail(task *Task, obs Observer, err error) error {
	logger := logging.GetLogger()
	logger.Error().Err(err).Str("url", task.URL).Int("errors", task.Errors()).Msg("Failed")
	obs.Log(fmt.Sprintf("Error downloading %s: %v", task.FileName, err))
	task.Finish(StatusFailed, err)
	return err
}
