package download

import (
	"io"
	"time"
)

const (
	MinReadSize = 1024
	MaxReadSize = 64 * 1024
)

// ReadChunk performs one read into buf and reports how long it took. The size of the chunk is len(buf).
func ReadChunk(r io.Reader, buf []byte) (int, time.Duration, error) {
	start := time.Now()
	n, err := r.Read(buf)
	return n, time.Since(start), err
}

// NextChunkSize grows the read size while chunks arrive faster than threshold and shrinks it once they take
// longer than twice the threshold. The result stays within [MinReadSize, MaxReadSize].
func NextChunkSize(size int, elapsed, threshold time.Duration) int {
	switch {
	case elapsed < threshold:
		size *= 2
	case elapsed > 2*threshold:
		size /= 2
	}
	return clampReadSize(size)
}

func clampReadSize(size int) int {
	return max(MinReadSize, min(size, MaxReadSize))
}
