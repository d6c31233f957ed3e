package download

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// CheckResume inspects an existing destination. It returns the bytes already on disk and whether they cover
// total. With resume disabled nothing on disk is reused.
func CheckResume(path string, total int64, enabled bool) (int64, bool, error) {
	if !enabled {
		return 0, false, nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, fmt.Errorf("destination %s is a directory", path)
	}
	size := info.Size()
	return size, total > 0 && size >= total, nil
}

func wrapWriteErr(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return &PermissionError{Path: path, Err: err}
	}
	return fmt.Errorf("error writing %s: %w", path, err)
}
