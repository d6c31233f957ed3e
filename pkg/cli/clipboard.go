package cli

import (
	"errors"
	"strings"

	"github.com/atotto/clipboard"

	linkstorm "github.com/linkstorm/linkstorm/pkg"
)

const maxClipboardURLLength = 2048

var (
	ErrClipboardRead = errors.New("failed to read from clipboard")
	ErrClipboardURL  = errors.New("clipboard does not contain a valid URL")
)

// readClipboard is swapped in tests, CI machines have no clipboard.
var readClipboard = clipboard.ReadAll

// ClipboardURL returns the clipboard content when it is a single http or https URL.
func ClipboardURL() (string, error) {
	text, err := readClipboard()
	if err != nil {
		return "", ErrClipboardRead
	}
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxClipboardURLLength || strings.ContainsAny(text, "\n\r \t") {
		return "", ErrClipboardURL
	}
	if linkstorm.ValidateURL(text) != nil {
		return "", ErrClipboardURL
	}
	return text, nil
}
