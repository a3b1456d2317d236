package export

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Compressor compresses a payload before a sink writes it to the wire.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Extension() string
}

// GetCompressor returns the Compressor for the named CompressionType.
func GetCompressor(t CompressionType) (Compressor, error) {
	switch t {
	case "", CompressionNone:
		return NoneCompressor{}, nil
	case CompressionGzip:
		return GzipCompressor{}, nil
	case CompressionSnappy:
		return SnappyCompressor{}, nil
	default:
		return nil, fmt.Errorf("export: unknown compression type %q", t)
	}
}

// NoneCompressor passes data through unchanged.
type NoneCompressor struct{}

func (NoneCompressor) Compress(data []byte) ([]byte, error) { return data, nil }
func (NoneCompressor) Extension() string                    { return "" }

// GzipCompressor compresses with the default gzip level.
type GzipCompressor struct{}

func (GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (GzipCompressor) Extension() string { return ".gz" }

// SnappyCompressor compresses with block-format snappy, used for the S3
// sink's object bodies and the compiler's on-disk cache alike.
type SnappyCompressor struct{}

func (SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (SnappyCompressor) Extension() string { return ".snappy" }

// Decompress reverses Compress for the named CompressionType. Sinks don't
// read their own writes back, but tests and any downstream consumer do.
func Decompress(t CompressionType, data []byte) ([]byte, error) {
	switch t {
	case "", CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	default:
		return nil, fmt.Errorf("export: unknown compression type %q", t)
	}
}
