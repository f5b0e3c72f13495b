// Package compress provides streaming (de)compression channels
//
// A channel exposes the plain io.Reader / io.WriteCloser contract. Reads report
// source failures with code IO and framing failures with code Decompression;
// a writer's Close writes the format trailer but never closes the sink.
package compress

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	perr "oscartools/internal/platform/errors"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format names a compression container
type Format string

// Supported formats
const (
	None Format = "none"
	Gzip Format = "gzip"
	Zstd Format = "zstd"
	LZ4  Format = "lz4"
)

// Auto asks for detection from the file name
const Auto Format = "auto"

// Ext is the file extension for the format, "" for None
func (f Format) Ext() string {
	switch f {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseFormat accepts format names and their common extensions
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "auto":
		return Auto, nil
	case "none", "raw", "plain":
		return None, nil
	case "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	}
	return "", perr.WithField(perr.Configf("unknown compression %q", s), "compression")
}

// Detect guesses the format from the last extension of path
func Detect(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return Gzip
	case ".zst", ".zstd":
		return Zstd
	case ".lz4":
		return LZ4
	default:
		return None
	}
}

// TrimExt removes the compression extension of f from name when present
func TrimExt(name string, f Format) string {
	ext := filepath.Ext(name)
	if ext != "" && Detect(name) == f && f != None {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// Level picks a speed/ratio tradeoff shared by all formats
type Level int

// Levels
const (
	LevelDefault Level = iota
	LevelFastest
	LevelBest
)

// ParseLevel parses default|fastest|best
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return LevelDefault, nil
	case "fastest", "fast":
		return LevelFastest, nil
	case "best":
		return LevelBest, nil
	}
	return 0, perr.WithField(perr.Configf("unknown compression level %q", s), "compression-level")
}

// Reader decompresses a source and classifies failures
type Reader struct {
	src *countingReader
	dec io.Reader
	// closeDec releases decoder resources
	closeDec func()
	err      error
}

// NewReader wraps src with a decompressor for f
// a header that cannot be read fails here with code Decompression
func NewReader(f Format, src io.Reader) (*Reader, error) {
	cr := &countingReader{r: src}
	r := &Reader{src: cr, closeDec: func() {}}

	switch f {
	case None, Auto, "":
		r.dec = cr
	case Gzip:
		zr, err := gzip.NewReader(cr)
		if err != nil {
			return nil, r.classify(err, "gzip header")
		}
		r.dec = zr
		r.closeDec = func() { _ = zr.Close() }
	case Zstd:
		zr, err := zstd.NewReader(cr, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, r.classify(err, "zstd init")
		}
		r.dec = zr
		r.closeDec = zr.Close
	case LZ4:
		r.dec = lz4.NewReader(cr)
	default:
		return nil, perr.InvalidArgf("unsupported compression %q", f)
	}
	return r, nil
}

// Read implements io.Reader; non EOF errors are sticky
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.dec.Read(p)
	if err != nil && err != io.EOF {
		r.err = r.classify(err, "read")
		return n, r.err
	}
	return n, err
}

// CompressedBytes is the number of bytes consumed from the source
func (r *Reader) CompressedBytes() int64 { return r.src.n }

// Close releases the decoder; the source is owned by the caller
func (r *Reader) Close() error {
	r.closeDec()
	return nil
}

// classify tells source failures apart from framing failures
func (r *Reader) classify(err error, op string) error {
	if r.src.err != nil && !errors.Is(r.src.err, io.EOF) {
		return perr.WithOp(perr.Wrap(r.src.err, perr.ErrorCodeIO, "source read failed"), op)
	}
	if err == io.EOF {
		// a decoder that hits EOF before its header means an empty or cut file
		err = io.ErrUnexpectedEOF
	}
	return perr.WithOp(perr.Wrap(err, perr.ErrorCodeDecompression, "corrupt or truncated stream"), op)
}

// countingReader records bytes and the first error of the raw source
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}

// NewWriter wraps dst with a compressor for f
// Close writes the trailer and leaves dst open
func NewWriter(f Format, dst io.Writer, lvl Level) (io.WriteCloser, error) {
	switch f {
	case None, Auto, "":
		return nopCloser{dst}, nil
	case Gzip:
		level := gzip.DefaultCompression
		switch lvl {
		case LevelFastest:
			level = gzip.BestSpeed
		case LevelBest:
			level = gzip.BestCompression
		}
		zw, err := gzip.NewWriterLevel(dst, level)
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "gzip writer")
		}
		return ioErrWriter{zw}, nil
	case Zstd:
		level := zstd.SpeedDefault
		switch lvl {
		case LevelFastest:
			level = zstd.SpeedFastest
		case LevelBest:
			level = zstd.SpeedBestCompression
		}
		// single goroutine encoder keeps output byte identical across runs
		zw, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "zstd writer")
		}
		return ioErrWriter{zw}, nil
	case LZ4:
		zw := lz4.NewWriter(dst)
		opts := []lz4.Option{lz4.ConcurrencyOption(1)}
		switch lvl {
		case LevelFastest:
			opts = append(opts, lz4.CompressionLevelOption(lz4.Fast))
		case LevelBest:
			opts = append(opts, lz4.CompressionLevelOption(lz4.Level9))
		}
		if err := zw.Apply(opts...); err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "lz4 writer")
		}
		return ioErrWriter{zw}, nil
	default:
		return nil, perr.InvalidArgf("unsupported compression %q", f)
	}
}

// ioErrWriter tags write and trailer failures with code IO
type ioErrWriter struct{ w io.WriteCloser }

func (x ioErrWriter) Write(p []byte) (int, error) {
	n, err := x.w.Write(p)
	if err != nil {
		return n, perr.Wrap(err, perr.ErrorCodeIO, "compressed write")
	}
	return n, nil
}

func (x ioErrWriter) Close() error {
	if err := x.w.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "compressed finalize")
	}
	return nil
}

type nopCloser struct{ w io.Writer }

func (x nopCloser) Write(p []byte) (int, error) {
	n, err := x.w.Write(p)
	if err != nil {
		return n, perr.Wrap(err, perr.ErrorCodeIO, "write")
	}
	return n, nil
}

func (nopCloser) Close() error { return nil }
