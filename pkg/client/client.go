package client

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"

	"github.com/linkstorm/linkstorm/pkg/logging"
	"github.com/linkstorm/linkstorm/pkg/version"
)

const (
	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond // do not backoff further than 3 seconds
	retrySleepJitter = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in backoffFunc

	// an idle HTTP/2 connection is pinged after h2ReadIdleTimeout and closed when the ping is not answered
	h2ReadIdleTimeout = 30 * time.Second
	h2PingTimeout     = 15 * time.Second
)

type Options struct {
	// Retries for probe and page requests. Transfers retry on their own and ignore it.
	MaxRetries int
	// ForceHTTP2 configures HTTP/2 with connection health checks on TLS connections.
	ForceHTTP2            bool
	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	MaxConnPerHost        int
	// ResolveOverrides maps host:port to the ip:port actually dialed.
	ResolveOverrides map[string]string
	Jar              http.CookieJar
	// Transport replaces the network transport. The User-Agent is still set.
	Transport http.RoundTripper
}

type UserAgentTransport struct {
	Transport http.RoundTripper
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", version.UserAgent())
	return t.Transport.RoundTrip(req)
}

// NewHTTPClient returns a client for HEAD probes and page fetches. Connection errors, 429 and 5xx responses
// are retried with a jittered backoff.
func NewHTTPClient(opts Options) *http.Client {
	retryClient := &retryablehttp.Client{
		HTTPClient:   newBaseClient(opts),
		Logger:       leveledLogger{},
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      backoffFunc,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	return retryClient.StandardClient()
}

// NewTransferClient returns a client for file transfers. It never retries, the transfer decides whether and
// when to try again and resumes from where the failed attempt stopped.
func NewTransferClient(opts Options) *http.Client {
	return newBaseClient(opts)
}

// NewCookieJar returns a jar shared by all clients of a session so cookies set by a page carry over to the
// downloads it links to.
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

func newBaseClient(opts Options) *http.Client {
	return &http.Client{
		Transport:     &UserAgentTransport{Transport: newTransport(opts)},
		CheckRedirect: checkRedirectFunc,
		Jar:           opts.Jar,
	}
}

func newTransport(opts Options) http.RoundTripper {
	if opts.Transport != nil {
		return opts.Transport
	}
	baseTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: transportDialContext(&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}, opts.ResolveOverrides),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		DisableKeepAlives:     false,
	}
	if opts.MaxConnPerHost > 0 {
		baseTransport.MaxConnsPerHost = opts.MaxConnPerHost
	}
	if opts.ForceHTTP2 {
		// HTTP/2 is negotiated on TLS connections of the same transport, so dialing, timeouts and the per-host
		// limit still apply. Plain http:// URLs stay on HTTP/1.1.
		h2Transport, err := http2.ConfigureTransports(baseTransport)
		if err != nil {
			logger := logging.GetLogger()
			logger.Warn().Err(err).Msg("Failed to configure HTTP/2, using the default protocol negotiation")
			return baseTransport
		}
		h2Transport.ReadIdleTimeout = h2ReadIdleTimeout
		h2Transport.PingTimeout = h2PingTimeout
	}
	return baseTransport
}

// backoffFunc is a wrapper around retryablehttp.DefaultBackoff that allows for adding a random jitter to the backoff
// we utilize the jitter to avoid thundering herd issues since we are running with significant numbers of concurrent
// requests.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

// checkRedirectFunc is a wrapper around http.Client.CheckRedirect that allows for printing out redirects
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	logger := logging.GetLogger()
	logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String()).
		Int("status", req.Response.StatusCode).
		Msg("Redirect")
	if len(via) >= 10 {
		return http.ErrUseLastResponse
	}
	return nil
}

// transportDialContext is a wrapper around net.Dialer that allows for overriding DNS lookups via the values passed to
// `--resolve` argument.
func transportDialContext(dialer *net.Dialer, overrides map[string]string) func(context.Context, string, string) (net.Conn, error) {
	// Allow for overriding DNS lookups in the dialer without impacting Host and SSL resolution
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addrOverride := overrides[addr]; addrOverride != "" {
			logger := logging.GetLogger()
			logger.Debug().Str("addr", addr).Str("override", addrOverride).Msg("DNS Override")
			addr = addrOverride
		}
		return dialer.DialContext(ctx, network, addr)
	}
}
