package extract

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"

	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

const peekSize = 8

// compression is a stream format recognised by its magic number.
type compression struct {
	name  string
	magic []byte
	open  func(r io.Reader) (io.Reader, error)
}

var compressions = []compression{
	{
		name:  "gzip",
		magic: []byte{0x1F, 0x8B},
		open: func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		},
	},
	{
		name:  "bzip2",
		magic: []byte{0x42, 0x5A, 0x68},
		open: func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		},
	},
	{
		name:  "xz",
		magic: []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00},
		open: func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		},
	},
	{
		name:  "lz4",
		magic: []byte{0x04, 0x22, 0x4D, 0x18},
		open: func(r io.Reader) (io.Reader, error) {
			return lz4.NewReader(r), nil
		},
	},
}

// detectCompression returns the compression whose magic number starts head.
func detectCompression(head []byte) (compression, bool) {
	for _, c := range compressions {
		if bytes.HasPrefix(head, c.magic) {
			return c, true
		}
	}
	return compression{}, false
}
