package download

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPClient is the subset of *http.Client used by the transfers.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer receives progress and free text log lines from a transfer. Implementations must be safe for
// concurrent use, the parts of a multi-connection transfer report independently.
type Observer interface {
	Progress(fileName string, percent int)
	Log(line string)
}

type nopObserver struct{}

func (nopObserver) Progress(string, int) {}
func (nopObserver) Log(string)           {}

type Options struct {
	// Initial read size, adapted during the transfer. If set to zero, 8 KiB will be used.
	ChunkSize int
	// Reads faster than this grow the chunk size, reads slower than twice this shrink it.
	AdaptiveThreshold time.Duration
	// Append to an existing destination instead of starting over.
	Resume bool
	// Retries after the first failed attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// How often a paused transfer checks whether it was resumed.
	PausePoll time.Duration
	// An attempt waiting longer than this for response headers or the next chunk fails with a retryable
	// timeout. If set to zero, 1 minute will be used.
	ReadTimeout time.Duration
	// Connections used by a multi-connection transfer. If set to zero, 8 will be used.
	Parts int
	// Maximum progress events per second, zero or less disables throttling.
	ProgressRate float64
}

const (
	defaultChunkSize         = 8 * 1024
	defaultAdaptiveThreshold = 50 * time.Millisecond
	defaultInitialBackoff    = time.Second
	defaultMaxBackoff        = 10 * time.Minute
	defaultPausePoll         = time.Second
	defaultReadTimeout       = time.Minute
	defaultParts             = 8
)

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	o.ChunkSize = clampReadSize(o.ChunkSize)
	if o.AdaptiveThreshold <= 0 {
		o.AdaptiveThreshold = defaultAdaptiveThreshold
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.PausePoll <= 0 {
		o.PausePoll = defaultPausePoll
	}
	if o.Parts <= 0 {
		o.Parts = defaultParts
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	return o
}

// Backoff returns the wait before retry attempt (zero based): initial doubled attempt times, capped at max.
func Backoff(initial, max time.Duration, attempt int) time.Duration {
	return retryablehttp.DefaultBackoff(initial, max, attempt, nil)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
