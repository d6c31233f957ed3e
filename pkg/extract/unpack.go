package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

var (
	ErrUnsafePath = errors.New("archive entry points outside of the target directory")
	ErrEmptyName  = errors.New("archive contains an entry with an empty name")
)

type format int

const (
	formatNone format = iota
	formatTar
	formatZip
)

var archiveSuffixes = []struct {
	suffix string
	format format
}{
	{".tar.gz", formatTar},
	{".tar.bz2", formatTar},
	{".tar.xz", formatTar},
	{".tar.lz4", formatTar},
	{".tgz", formatTar},
	{".tbz2", formatTar},
	{".txz", formatTar},
	{".tar", formatTar},
	{".zip", formatZip},
}

// Target returns the folder an archive at path unpacks into, the path without its archive suffix. It returns
// "" for files that are not a supported archive.
func Target(path string) string {
	dir, _ := target(path)
	return dir
}

func target(path string) (string, format) {
	lower := strings.ToLower(path)
	for _, a := range archiveSuffixes {
		if strings.HasSuffix(lower, a.suffix) && len(path) > len(a.suffix) {
			return path[:len(path)-len(a.suffix)], a.format
		}
	}
	return "", formatNone
}

// Unpacker expands zip and tar archives, plain or compressed with gzip, bzip2, xz or lz4, next to the archive.
type Unpacker struct {
	// Overwrite replaces files of an existing target folder. Without it an existing folder is left alone.
	Overwrite bool
}

// Unpack extracts the archive at path and returns the folder it was extracted to. Files that are not archives,
// and archives whose folder already exists when Overwrite is off, return "" and no error.
func (u *Unpacker) Unpack(ctx context.Context, path string) (string, error) {
	logger := logging.GetLogger()
	dir, kind := target(path)
	if kind == formatNone {
		return "", nil
	}
	if _, err := os.Stat(dir); err == nil && !u.Overwrite {
		logger.Debug().Str("archive", path).Str("target", dir).Msg("Already extracted")
		return "", nil
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening archive: %w", err)
	}
	defer f.Close()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating destination directory: %w", err)
	}

	switch kind {
	case formatZip:
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		err = unzip(ctx, f, info.Size(), dir, u.Overwrite)
		if err != nil {
			return "", err
		}
	case formatTar:
		r, err := decompress(f)
		if err != nil {
			return "", err
		}
		if err := untar(ctx, r, dir, u.Overwrite); err != nil {
			return "", err
		}
	}
	logger.Info().Str("archive", path).Str("target", dir).Msg("Extracted")
	return dir, nil
}

// decompress wraps r with the decompressor its magic number calls for, or returns it unchanged.
func decompress(r io.Reader) (io.Reader, error) {
	logger := logging.GetLogger()
	br := bufio.NewReader(r)
	head, err := br.Peek(peekSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error reading archive header: %w", err)
	}
	c, ok := detectCompression(head)
	if !ok {
		logger.Debug().Str("type", "none").Msg("Compression Format")
		return br, nil
	}
	logger.Debug().Str("type", c.name).Msg("Compression Format")
	dr, err := c.open(br)
	if err != nil {
		return nil, fmt.Errorf("error opening %s stream: %w", c.name, err)
	}
	return dr, nil
}

// safeJoin joins name below destDir and rejects names that would leave it.
func safeJoin(destDir, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyName
	}
	target := filepath.Join(destDir, name)
	if !within(destDir, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func within(destDir, path string) bool {
	rel, err := filepath.Rel(destDir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeFile(target string, src io.Reader, mode os.FileMode, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
	if overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(target, flags, cleanFileMode(mode.Perm())|0o200)
	if err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("error writing %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing file %s: %w", target, err)
	}
	return nil
}

func cleanFileMode(mode os.FileMode) os.FileMode {
	return mode &^ (os.ModeSticky | os.ModeSetuid | os.ModeSetgid)
}
