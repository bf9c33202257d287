package compress

import (
	"io"

	"github.com/mholt/archiver/v3"
)

type (
	// Compressor is responsible to compress and decompress database dumps
	Compressor interface {
		// Compress reads the plain dump from r and writes the compressed stream to w
		Compress(r io.Reader, w io.Writer) error
		// Decompress reads the compressed dump from r and writes the plain stream to w
		Decompress(r io.Reader, w io.Writer) error
		// Extension returns the filename extension appended to compressed dumps
		Extension() string
	}

	// DumpCompressor gzips single dump streams. Dumps are one file each, so
	// there is no archive around them, just the compressed stream.
	DumpCompressor struct {
		gz *archiver.Gz
	}
)

// New returns a gzip compressor for database dumps
func New() *DumpCompressor {
	return &DumpCompressor{
		gz: archiver.NewGz(),
	}
}

func (c *DumpCompressor) Compress(r io.Reader, w io.Writer) error {
	return c.gz.Compress(r, w)
}

func (c *DumpCompressor) Decompress(r io.Reader, w io.Writer) error {
	return c.gz.Decompress(r, w)
}

func (c *DumpCompressor) Extension() string {
	return ".gz"
}
