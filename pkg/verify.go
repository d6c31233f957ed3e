package linkstorm

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

const sniffLen = 512

var extAliases = map[string]string{
	"jpeg": "jpg",
	"tiff": "tif",
	"htm":  "html",
	"mpeg": "mpg",
}

// contentMismatch sniffs the first bytes of path and reports the detected kind when it disagrees with the file
// extension. Content that cannot be identified is never a mismatch.
func contentMismatch(path string) (string, bool) {
	ext := normalizeExt(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	head, err := readHead(path)
	if err != nil || len(head) == 0 {
		return "", false
	}

	kind := ""
	if t, err := filetype.Match(head); err == nil && t != filetype.Unknown {
		kind = normalizeExt(t.Extension)
	} else if strings.HasPrefix(http.DetectContentType(head), "text/html") {
		kind = "html"
	}
	if kind == "" || kind == ext {
		return "", false
	}
	// Extensions the sniffer cannot recognise are only flagged when the body is an HTML page.
	if kind != "html" && !filetype.IsSupported(ext) {
		return "", false
	}
	return kind, true
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if alias, ok := extAliases[ext]; ok {
		return alias
	}
	return ext
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head[:n], nil
}
