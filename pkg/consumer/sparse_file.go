package consumer

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// SparseFile is a working file sized up front so parallel parts can write their windows in any order.
type SparseFile struct {
	file *os.File
	path string
}

func CreateSparse(path string, size int64) (*SparseFile, error) {
	out, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error creating working file: %w", err)
	}
	if err := out.Truncate(size); err != nil {
		out.Close()
		os.Remove(path)
		return nil, fmt.Errorf("error allocating working file: %w", err)
	}
	return &SparseFile{file: out, path: path}, nil
}

func (s *SparseFile) Path() string {
	return s.path
}

// Window returns a writer whose first byte lands at start. Windows of different parts must not overlap.
func (s *SparseFile) Window(start int64) io.Writer {
	return io.NewOffsetWriter(s.file, start)
}

// Commit closes the working file and moves it onto dest.
func (s *SparseFile) Commit(dest string) error {
	if err := s.file.Close(); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("error closing working file: %w", err)
	}
	if err := os.Rename(s.path, dest); err != nil {
		os.Remove(s.path)
		return fmt.Errorf("error moving working file into place: %w", err)
	}
	return nil
}

// Discard closes and removes the working file.
func (s *SparseFile) Discard() error {
	closeErr := s.file.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}
