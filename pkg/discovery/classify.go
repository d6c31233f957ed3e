package discovery

import (
	"net/url"
	"path"
	"strings"
)

type Kind int

const (
	DirectDownload Kind = iota
	PageToMine
)

func (k Kind) String() string {
	if k == DirectDownload {
		return "direct"
	}
	return "page"
}

// BitrateAny disables the mp3 bitrate filter.
const BitrateAny = "none"

type Rules struct {
	// Extensions downloaded directly, compared case-insensitively. A missing leading dot is added.
	Extensions []string
	// MinBitrate must appear verbatim in an .mp3 URL for it to be downloaded directly.
	MinBitrate string
}

func (r Rules) bitrateFilter() bool {
	return r.MinBitrate != "" && !strings.EqualFold(r.MinBitrate, BitrateAny)
}

// Classify decides whether rawURL names a file to download or a page to mine for links.
func Classify(rawURL string, rules Rules) Kind {
	p := strings.ToLower(urlPath(rawURL))
	for _, ext := range rules.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !strings.HasSuffix(p, ext) {
			continue
		}
		if ext == ".mp3" && rules.bitrateFilter() && !strings.Contains(rawURL, rules.MinBitrate) {
			return PageToMine
		}
		return DirectDownload
	}
	return PageToMine
}

// CanonicalName is the percent-decoded last path segment of rawURL, ignoring query and fragment. It returns
// "" when the URL has no usable file name.
func CanonicalName(rawURL string) string {
	base := path.Base(urlPath(rawURL))
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// keep going with whatever precedes the query
		p, _, _ := strings.Cut(rawURL, "?")
		p, _, _ = strings.Cut(p, "#")
		if unescaped, err := url.PathUnescape(p); err == nil {
			return unescaped
		}
		return p
	}
	return u.Path
}
