package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/linkstorm/linkstorm/pkg/consumer"
	"github.com/linkstorm/linkstorm/pkg/logging"
)

// WorkingSuffix is appended to the destination while a multi-connection transfer assembles the file.
const WorkingSuffix = ".lspart"

// MultiStream downloads a task of known size over several parallel range requests. Each part writes its own
// window of a pre-sized working file, which replaces the destination once every part is complete.
type MultiStream struct {
	Client   HTTPClient
	Options  Options
	Observer Observer
}

// Run returns nil once the task is Completed and ErrCanceled once it is Canceled. Any other error leaves the
// task Running with its working file removed, so the caller can fall back to a single stream.
func (m *MultiStream) Run(ctx context.Context, task *Task, ctl *Control) error {
	logger := logging.GetLogger()
	opts := m.Options.withDefaults()
	obs := m.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	total := task.Total()
	if total <= 0 {
		return ErrSizeUnknown
	}
	ranges, err := Plan(total, opts.Parts)
	if err != nil {
		return err
	}

	task.Start()
	task.setStrategy(StrategyMulti)
	task.SetBytes(0)
	progress := newProgressReporter(task, obs, opts.ProgressRate)

	working, err := consumer.CreateSparse(task.Dest+WorkingSuffix, total)
	if err != nil {
		return &MultiStreamAbortError{Part: -1, Err: wrapWriteErr(task.Dest+WorkingSuffix, err)}
	}

	logger.Debug().Str("dest", task.Dest).
		Str("url", task.URL).
		Int64("size", total).
		Int("connections", len(ranges)).
		Msg("Downloading")

	startTime := time.Now()
	errGroup, groupCtx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		errGroup.Go(func() error {
			err := m.fetchPart(groupCtx, task, ctl, progress, working.Window(r.Start), r, opts)
			if err == nil || errors.Is(err, ErrCanceled) {
				return err
			}
			return &MultiStreamAbortError{Part: i, Err: err}
		})
	}
	err = errGroup.Wait()
	if err == nil {
		err = working.Commit(task.Dest)
		if err != nil {
			err = &MultiStreamAbortError{Part: -1, Err: err}
		}
	} else if discardErr := working.Discard(); discardErr != nil {
		logger.Warn().Err(discardErr).Str("path", working.Path()).Msg("Failed to remove working file")
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrCanceled) || ctx.Err() != nil:
		logger.Info().Str("url", task.URL).Msg("Canceled")
		obs.Log(fmt.Sprintf("Download canceled for %s.", task.FileName))
		task.Finish(StatusCanceled, nil)
		return ErrCanceled
	default:
		task.RecordError(err)
		task.SetBytes(0)
		return err
	}

	elapsed := time.Since(startTime)
	logger.Info().Str("url", task.URL).
		Str("dest", task.Dest).
		Str("size", humanize.Bytes(uint64(total))).
		Int("connections", len(ranges)).
		Str("elapsed", fmt.Sprintf("%.3fs", elapsed.Seconds())).
		Str("throughput", Throughput(total, elapsed)).
		Msg("Complete")
	obs.Log(fmt.Sprintf("Download completed: %s", task.FileName))
	progress.force(100)
	task.Finish(StatusCompleted, nil)
	return nil
}

func (m *MultiStream) fetchPart(ctx context.Context, task *Task, ctl *Control, progress *progressReporter, w io.Writer, r Range, opts Options) error {
	watchdog := newReadWatchdog(ctx, ctl, opts.ReadTimeout)
	defer watchdog.close()
	req, err := http.NewRequestWithContext(watchdog.ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", task.URL, err)
	}
	req.Header.Set("Range", r.Header())

	resp, err := m.Client.Do(req)
	if err != nil {
		return watchdog.wrap("connect", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return ErrUnexpectedHTTPStatus(resp.StatusCode, task.URL)
	}

	body := io.LimitReader(resp.Body, r.Len())
	buf := make([]byte, MaxReadSize)
	chunkSize := opts.ChunkSize
	var written int64
	for {
		watchdog.suspend()
		if err := ctl.checkpoint(ctx, task, opts.PausePoll); err != nil {
			return err
		}
		watchdog.touch()
		n, elapsed, readErr := ReadChunk(body, buf[:chunkSize])
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return wrapWriteErr(task.Dest+WorkingSuffix, err)
			}
			written += int64(n)
			progress.update(task.AddBytes(int64(n)))
			chunkSize = NextChunkSize(chunkSize, elapsed, opts.AdaptiveThreshold)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return watchdog.wrap("read", readErr)
		}
	}
	if written != r.Len() {
		return fmt.Errorf("downloaded %d bytes instead of %d for range %s", written, r.Len(), r.Header())
	}
	return nil
}
