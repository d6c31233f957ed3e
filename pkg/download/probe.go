package download

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

type ProbeResult struct {
	// Size is UnknownSize when the server did not send a Content-Length.
	Size         int64
	TrueURL      string
	AcceptRanges bool
}

// Probe issues a HEAD request for url. A response without a usable Content-Length yields ErrSizeUnknown
// together with the rest of the result.
func Probe(ctx context.Context, client HTTPClient, url string, timeout time.Duration) (ProbeResult, error) {
	logger := logging.GetLogger()
	result := ProbeResult{Size: UnknownSize, TrueURL: url}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return result, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return result, &TransportError{Op: "probe", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, ErrUnexpectedHTTPStatus(resp.StatusCode, url)
	}
	if resp.Request != nil && resp.Request.URL != nil {
		result.TrueURL = resp.Request.URL.String()
		if result.TrueURL != url {
			logger.Info().Str("url", url).Str("redirect_url", result.TrueURL).Msg("Redirect")
		}
	}
	result.AcceptRanges = resp.Header.Get("Accept-Ranges") == "bytes"
	if resp.ContentLength <= 0 {
		return result, ErrSizeUnknown
	}
	result.Size = resp.ContentLength
	return result, nil
}
