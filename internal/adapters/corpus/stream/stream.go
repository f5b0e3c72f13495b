// Package stream turns one compressed corpus file into a lazy sequence of records
//
// A Stream holds at most one frame of serialized bytes plus the bufio and
// decoder windows. Malformed frames surface as positioned errors and the
// stream stays usable so a caller may skip them; decompression and source
// failures are terminal. A Stream is single pass and not safe for concurrent use.
package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"oscartools/internal/adapters/corpus/codec"
	"oscartools/internal/adapters/corpus/compress"
	"oscartools/internal/core/record"
	perr "oscartools/internal/platform/errors"
)

// DefaultMaxFrame caps one serialized record
const DefaultMaxFrame = 32 << 20

const readBufSize = 64 << 10

// Stats are the counters of one stream
type Stats struct {
	// Records decoded successfully
	Records int64
	// Malformed frames returned as errors
	Malformed int64
	// BlankLines skipped between line framed records
	BlankLines int64
	// Bytes is the decompressed byte count consumed
	Bytes int64
	// CompressedBytes is the raw byte count consumed
	CompressedBytes int64
}

// Option tunes a Stream
type Option func(*Stream)

// WithMaxFrame sets the frame cap; values <= 0 keep the default
func WithMaxFrame(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// Stream is a forward only record sequence over one source
type Stream struct {
	src   io.ReadCloser
	dec   *compress.Reader
	br    *bufio.Reader
	codec codec.Codec

	maxFrame int
	frame    []byte
	offset   int64
	index    int64

	// position of the last record returned
	lastStart int64
	lastIndex int64

	err    error
	closed bool
	stats  Stats
}

// Open starts decompression over rc and returns a Stream that owns rc
// on error rc is closed
func Open(rc io.ReadCloser, f compress.Format, c codec.Codec, opts ...Option) (*Stream, error) {
	if c == nil {
		_ = rc.Close()
		return nil, perr.InvalidArgf("stream: nil codec")
	}
	dec, err := compress.NewReader(f, rc)
	if err != nil {
		_ = rc.Close()
		return nil, perr.WithPosition(err, 0, 0)
	}
	s := &Stream{
		src:      rc,
		dec:      dec,
		br:       bufio.NewReaderSize(dec, readBufSize),
		codec:    c,
		maxFrame: DefaultMaxFrame,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Next returns the next record, io.EOF at clean end of input
//
// A Malformed error carries the frame's decompressed offset and index and the
// following call resumes at the next frame. Any other error is terminal.
func (s *Stream) Next() (record.Record, error) {
	if s.err != nil {
		return record.Record{}, s.err
	}
	if s.closed {
		s.err = perr.IOf("stream: read after close")
		return record.Record{}, s.err
	}

	start, frame, err := s.readFrame()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.err = io.EOF
		return record.Record{}, io.EOF
	case perr.IsCode(err, perr.ErrorCodeMalformed):
		idx := s.index
		s.index++
		s.stats.Malformed++
		return record.Record{}, perr.WithOp(perr.WithPosition(err, start, idx), "frame")
	default:
		if _, ok := perr.As(err); !ok {
			err = perr.Wrap(err, perr.ErrorCodeIO, "stream read")
		}
		s.err = perr.WithPosition(err, start, s.index)
		return record.Record{}, s.err
	}

	idx := s.index
	s.index++
	rec, err := s.codec.Decode(frame)
	if err != nil {
		s.stats.Malformed++
		if !perr.IsCode(err, perr.ErrorCodeMalformed) {
			err = perr.Wrap(err, perr.ErrorCodeMalformed, "decode")
		}
		return record.Record{}, perr.WithOp(perr.WithPosition(err, start, idx), "decode")
	}
	s.stats.Records++
	s.lastStart, s.lastIndex = start, idx
	return rec, nil
}

// Position returns the decompressed offset and index of the last record returned
func (s *Stream) Position() (offset, index int64) { return s.lastStart, s.lastIndex }

// Stats returns a snapshot of the counters
func (s *Stream) Stats() Stats {
	st := s.stats
	st.Bytes = s.offset
	st.CompressedBytes = s.dec.CompressedBytes()
	return st
}

// Close releases the decoder and closes the source; it is idempotent
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.dec.Close()
	if err := s.src.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "stream close")
	}
	return nil
}

// readFrame returns the start offset and bytes of the next frame
func (s *Stream) readFrame() (int64, []byte, error) {
	if s.codec.Framing() == codec.FrameParagraph {
		return s.readParagraph()
	}
	for {
		start := s.offset
		line, tooLong, err := s.readLine()
		if err != nil && !(errors.Is(err, io.EOF) && (len(line) > 0 || tooLong)) {
			return start, nil, err
		}
		if tooLong {
			return start, nil, perr.Malformedf("frame exceeds %d bytes", s.maxFrame)
		}
		if codec.BlankLine(line) {
			s.stats.BlankLines++
			continue
		}
		return start, line, nil
	}
}

// readParagraph joins lines up to the next blank line or clean EOF
func (s *Stream) readParagraph() (int64, []byte, error) {
	var (
		start   int64
		para    []byte
		started bool
		tooLong bool
	)
	for {
		lineStart := s.offset
		line, over, err := s.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return start, nil, err
		}
		eof := err != nil
		blank := !over && codec.BlankLine(line)

		if !blank {
			if !started {
				started, start = true, lineStart
			}
			if over || len(para)+len(line)+1 > s.maxFrame {
				tooLong = true
			} else if !tooLong {
				if len(para) > 0 {
					para = append(para, '\n')
				}
				para = append(para, line...)
			}
		}

		if (blank && started) || eof {
			switch {
			case !started:
				return lineStart, nil, io.EOF
			case tooLong:
				return start, nil, perr.Malformedf("frame exceeds %d bytes", s.maxFrame)
			default:
				return start, para, nil
			}
		}
	}
}

// readLine reads one line without its terminator
// a line longer than maxFrame is consumed to its end and reported with tooLong
// err is io.EOF when the input ended; line may still hold an unterminated tail
func (s *Stream) readLine() (line []byte, tooLong bool, err error) {
	s.frame = s.frame[:0]
	for {
		chunk, rerr := s.br.ReadSlice('\n')
		s.offset += int64(len(chunk))
		if !tooLong {
			if len(s.frame)+len(chunk) > s.maxFrame+2 {
				tooLong = true
				s.frame = s.frame[:0]
			} else {
				s.frame = append(s.frame, chunk...)
			}
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimRight(s.frame, "\r\n")
		if !tooLong && len(line) > s.maxFrame {
			tooLong = true
		}
		return line, tooLong, rerr
	}
}
