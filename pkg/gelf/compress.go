package gelf

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"firestige.xyz/sqelf/internal/core"
)

// Compression selects the scheme used by Compress.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZlib
)

// ParseCompression maps a config/flag value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zlib":
		return CompressionZlib, nil
	default:
		return CompressionNone, fmt.Errorf("unsupported compression %q (must be none/gzip/zlib)", s)
	}
}

// Decompress inflates a gzip or zlib payload. At most limit bytes of output
// are accepted; a larger body fails with core.ErrMessageTooLarge.
func Decompress(f Format, b []byte, limit int) ([]byte, error) {
	var (
		r   io.ReadCloser
		err error
	)
	switch f {
	case FormatGzip:
		r, err = gzip.NewReader(bytes.NewReader(b))
	case FormatZlib:
		r, err = zlib.NewReader(bytes.NewReader(b))
	default:
		return nil, fmt.Errorf("%w: %s is not a compressed format", core.ErrUnknownMagic, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s header: %v", core.ErrDecompress, f, err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s stream truncated", core.ErrDecompress, f)
		}
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDecompress, f, err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: decompressed %s body exceeds %d bytes", core.ErrMessageTooLarge, f, limit)
	}
	return out, nil
}

// Compress encodes b with the given scheme.
func Compress(c Compression, b []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionNone:
		return b, nil
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported compression %d", c)
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
