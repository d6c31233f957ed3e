package consumer

import (
	"fmt"
	"io"
	"os"
)

// FileWriter appends a sequential transfer to its destination.
type FileWriter struct {
	file *os.File
}

var _ io.WriteCloser = &FileWriter{}

// OpenFileWriter opens path for writing at offset. Anything past offset is discarded so the file always ends
// where the next byte of the transfer belongs, offset 0 truncates the file.
func OpenFileWriter(path string, offset int64) (*FileWriter, error) {
	openFlags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		openFlags |= os.O_TRUNC
	}
	out, err := os.OpenFile(path, openFlags, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	if offset > 0 {
		if err := out.Truncate(offset); err != nil {
			out.Close()
			return nil, fmt.Errorf("error truncating file: %w", err)
		}
		if _, err := out.Seek(offset, io.SeekStart); err != nil {
			out.Close()
			return nil, fmt.Errorf("error seeking file: %w", err)
		}
	}
	return &FileWriter{file: out}, nil
}

func (f *FileWriter) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

func (f *FileWriter) Close() error {
	return f.file.Close()
}
