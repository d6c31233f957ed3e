package consumer_test

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linkstorm/linkstorm/pkg/consumer"
)

const kB = 1024

func generateTestContent(size int64) []byte {
	content := make([]byte, size)
	// Generate random bytes and write them to the content slice
	for i := range content {
		content[i] = byte(rand.Intn(256))
	}
	return content
}

func TestFileWriter(t *testing.T) {
	r := require.New(t)
	buf := generateTestContent(kB)
	dest := filepath.Join(t.TempDir(), "out.bin")

	w, err := consumer.OpenFileWriter(dest, 0)
	r.NoError(err)
	_, err = w.Write(buf[:kB/2])
	r.NoError(err)
	r.NoError(w.Close())

	// resume where the first writer stopped
	w, err = consumer.OpenFileWriter(dest, kB/2)
	r.NoError(err)
	_, err = w.Write(buf[kB/2:])
	r.NoError(err)
	r.NoError(w.Close())

	fileContent, err := os.ReadFile(dest)
	r.NoError(err)
	r.Equal(buf, fileContent)
}

func TestFileWriterTruncatesAtOffset(t *testing.T) {
	r := require.New(t)
	dest := filepath.Join(t.TempDir(), "out.bin")
	r.NoError(os.WriteFile(dest, []byte("0123456789"), 0644))

	w, err := consumer.OpenFileWriter(dest, 4)
	r.NoError(err)
	_, err = w.Write([]byte("ab"))
	r.NoError(err)
	r.NoError(w.Close())

	fileContent, err := os.ReadFile(dest)
	r.NoError(err)
	r.Equal("0123ab", string(fileContent))

	// offset zero starts over
	w, err = consumer.OpenFileWriter(dest, 0)
	r.NoError(err)
	r.NoError(w.Close())
	info, err := os.Stat(dest)
	r.NoError(err)
	r.Zero(info.Size())
}

func TestFileWriterMissingDirectory(t *testing.T) {
	_, err := consumer.OpenFileWriter(filepath.Join(t.TempDir(), "missing", "out.bin"), 0)
	require.Error(t, err)
}

func TestSparseFile(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	buf := generateTestContent(10 * kB)
	working := filepath.Join(dir, "out.bin.lspart")
	dest := filepath.Join(dir, "out.bin")

	s, err := consumer.CreateSparse(working, int64(len(buf)))
	r.NoError(err)
	info, err := os.Stat(working)
	r.NoError(err)
	r.EqualValues(len(buf), info.Size())

	// write the windows back to front
	for start := len(buf) - 2*kB; start >= 0; start -= 2 * kB {
		_, err := s.Window(int64(start)).Write(buf[start : start+2*kB])
		r.NoError(err)
	}
	r.NoError(s.Commit(dest))

	fileContent, err := os.ReadFile(dest)
	r.NoError(err)
	r.True(bytes.Equal(buf, fileContent))
	_, err = os.Stat(working)
	r.ErrorIs(err, os.ErrNotExist)
}

func TestSparseFileDiscard(t *testing.T) {
	r := require.New(t)
	working := filepath.Join(t.TempDir(), "out.bin.lspart")

	s, err := consumer.CreateSparse(working, 4*kB)
	r.NoError(err)
	r.NoError(s.Discard())
	_, err = os.Stat(working)
	r.ErrorIs(err, os.ErrNotExist)
}
