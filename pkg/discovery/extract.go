package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

// maxPageSize bounds how much of a page is read when mining it.
const maxPageSize = 10 << 20

// Extractor turns a page URL into candidate download URLs.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) ([]string, error)
}

// PageCache stores fetched page content keyed by URL.
type PageCache interface {
	Get(ctx context.Context, pageURL string) (string, bool, error)
	Put(ctx context.Context, pageURL, content string) error
}

// Renderer loads a page in a browser and returns the resulting document, for pages that build their links
// with JavaScript.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTMLExtractor fetches a page, through Cache when set, and returns every href that classifies as a direct
// download. When the static page yields nothing and a Renderer is set, the rendered page is tried as well.
type HTMLExtractor struct {
	Client   HTTPClient
	Cache    PageCache
	Renderer Renderer
	Rules    Rules
	// Refresh ignores cached pages, fresh content still updates the cache.
	Refresh bool
	Timeout time.Duration
}

var _ Extractor = &HTMLExtractor{}

func (e *HTMLExtractor) Extract(ctx context.Context, pageURL string) ([]string, error) {
	logger := logging.GetLogger()

	content, fetchErr := e.page(ctx, pageURL)
	var links []string
	if fetchErr == nil {
		var err error
		if links, err = ExtractLinks(content, pageURL, e.Rules); err != nil {
			fetchErr = err
		}
	}
	if len(links) > 0 || e.Renderer == nil {
		return links, fetchErr
	}

	logger.Debug().Str("url", pageURL).AnErr("static_error", fetchErr).Msg("No links in static page, rendering")
	rendered, err := e.Renderer.Render(ctx, pageURL)
	if err != nil {
		return nil, errors.Join(fetchErr, fmt.Errorf("rendering %s: %w", pageURL, err))
	}
	if e.Cache != nil {
		if err := e.Cache.Put(ctx, pageURL, rendered); err != nil {
			logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to cache page")
		}
	}
	return ExtractLinks(rendered, pageURL, e.Rules)
}

func (e *HTMLExtractor) page(ctx context.Context, pageURL string) (string, error) {
	logger := logging.GetLogger()
	if e.Cache != nil && !e.Refresh {
		content, ok, err := e.Cache.Get(ctx, pageURL)
		if err != nil {
			logger.Warn().Err(err).Str("url", pageURL).Msg("Page cache lookup failed")
		} else if ok {
			logger.Debug().Str("url", pageURL).Msg("Page cache hit")
			return content, nil
		}
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request for %s: %w", pageURL, err)
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetching %s: status code %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}
	content := string(body)
	if e.Cache != nil {
		if err := e.Cache.Put(ctx, pageURL, content); err != nil {
			logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to cache page")
		}
	}
	return content, nil
}

// ExtractLinks returns the href targets in content, resolved against baseURL, that classify as direct downloads.
// Order of first appearance is kept and duplicates are dropped.
func ExtractLinks(content, baseURL string, rules Rules) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %s: %w", baseURL, err)
	}

	var links []string
	seen := make(map[string]bool)
	tokenizer := html.NewTokenizer(strings.NewReader(content))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); err != io.EOF {
				return links, err
			}
			return links, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			token := tokenizer.Token()
			for _, attr := range token.Attr {
				if attr.Key != "href" {
					continue
				}
				ref, err := base.Parse(strings.TrimSpace(attr.Val))
				if err != nil || (ref.Scheme != "http" && ref.Scheme != "https") {
					continue
				}
				link := ref.String()
				if seen[link] || Classify(link, rules) != DirectDownload {
					continue
				}
				seen[link] = true
				links = append(links, link)
			}
		}
	}
}
