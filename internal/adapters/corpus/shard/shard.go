// Package shard splits a record sequence into size bounded output files
//
// Every shard is written to "<name>.part" and renamed into place when it is
// finalized, so a finished name always denotes a complete file. Shards are
// opened lazily: a writer that never routes a record creates nothing.
package shard

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"oscartools/internal/adapters/corpus/codec"
	"oscartools/internal/adapters/corpus/compress"
	"oscartools/internal/core/record"
	"oscartools/internal/platform/logger"
	"oscartools/internal/services/pipeline/domain"

	perr "oscartools/internal/platform/errors"
)

// PartSuffix marks a shard still being written
const PartSuffix = ".part"

const writeBufSize = 256 << 10

// Config describes one output series
type Config struct {
	Dir    string
	Stem   string
	Codec  codec.Codec
	Format compress.Format
	Level  compress.Level
	Policy Policy
	// Log defaults to a disabled logger
	Log *logger.Logger
}

// Ext is the full output extension, eg .jsonl.zst
func (c Config) Ext() string {
	return c.Codec.Ext() + c.Format.Ext()
}

// Name returns the file name of the n-th shard (1 based)
func (c Config) Name(n int) string {
	if !c.Policy.Bounded() {
		return c.Stem + c.Ext()
	}
	return fmt.Sprintf("%s_part_%04d%s", c.Stem, n, c.Ext())
}

// Owns reports whether name is a file name this config may write
func (c Config) Owns(name string) bool {
	ext := c.Ext()
	if !c.Policy.Bounded() {
		return name == c.Stem+ext
	}
	prefix := c.Stem + "_part_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) || len(name) < len(prefix)+len(ext) {
		return false
	}
	n := name[len(prefix) : len(name)-len(ext)]
	if len(n) < 4 {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Writer routes encoded records into the current shard and rotates on limit
// A Writer belongs to a single unit and is not safe for concurrent use
type Writer struct {
	cfg Config
	log logger.Logger

	cur  *open
	buf  []byte
	seq  int
	done []domain.ShardInfo

	finalized bool
	aborted   bool
}

// open is the shard being written
type open struct {
	path string
	f    *os.File
	disk *countingWriter
	bw   *bufio.Writer
	zw   io.WriteCloser

	records int64
	bytes   int64
}

// New validates cfg and returns a Writer; no file is created until the first Route
func New(cfg Config) (*Writer, error) {
	if cfg.Codec == nil {
		return nil, perr.InvalidArgf("shard: nil codec")
	}
	if cfg.Stem == "" {
		return nil, perr.InvalidArgf("shard: empty stem")
	}
	if cfg.Format == compress.Auto || cfg.Format == "" {
		cfg.Format = compress.None
	}
	if err := cfg.Policy.Check(); err != nil {
		return nil, err
	}
	if cfg.Policy.Kind == "" {
		cfg.Policy.Kind = Unbounded
	}
	w := &Writer{cfg: cfg, log: logger.Nop()}
	if cfg.Log != nil {
		w.log = *cfg.Log
	}
	return w, nil
}

// Route encodes r and appends it to the current shard, rotating first when the
// record would push a non empty shard over the limit
// Encoding errors leave the writer usable; write errors abort it
func (w *Writer) Route(ctx context.Context, r record.Record) error {
	if w.finalized || w.aborted {
		return perr.InvalidArgf("shard: route after close")
	}
	if err := ctx.Err(); err != nil {
		return perr.Cancelled(err)
	}

	enc, err := w.cfg.Codec.Append(w.buf[:0], r)
	if err != nil {
		return perr.WithOp(err, "encode")
	}
	w.buf = enc

	if w.cur != nil && w.cur.records > 0 && w.exceeds(int64(len(enc))) {
		if err := w.closeCurrent(); err != nil {
			w.Abort()
			return err
		}
	}
	if w.cur == nil {
		if err := w.openNext(); err != nil {
			w.Abort()
			return err
		}
	}
	if _, err := w.cur.zw.Write(enc); err != nil {
		w.Abort()
		return perr.WithOp(err, "shard write")
	}
	w.cur.records++
	w.cur.bytes += int64(len(enc))
	return nil
}

func (w *Writer) exceeds(next int64) bool {
	switch w.cfg.Policy.Kind {
	case Bytes:
		return w.cur.bytes+next > w.cfg.Policy.Limit
	case Records:
		return w.cur.records+1 > w.cfg.Policy.Limit
	}
	return false
}

func (w *Writer) openNext() error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "create output dir")
	}
	w.seq++
	final := filepath.Join(w.cfg.Dir, w.cfg.Name(w.seq))
	f, err := os.OpenFile(final+PartSuffix, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "open shard")
	}
	disk := &countingWriter{w: f}
	bw := bufio.NewWriterSize(disk, writeBufSize)
	zw, err := compress.NewWriter(w.cfg.Format, bw, w.cfg.Level)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(final + PartSuffix)
		return err
	}
	w.cur = &open{path: final, f: f, disk: disk, bw: bw, zw: zw}
	return nil
}

// closeCurrent writes the trailer and renames the part file into place
func (w *Writer) closeCurrent() error {
	c := w.cur
	if c == nil {
		return nil
	}
	if err := c.zw.Close(); err != nil {
		return perr.WithOp(err, "shard trailer")
	}
	if err := c.bw.Flush(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "shard flush")
	}
	if err := c.f.Sync(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "shard sync")
	}
	if err := c.f.Close(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "shard close")
	}
	if err := os.Rename(c.path+PartSuffix, c.path); err != nil {
		return perr.Wrap(err, perr.ErrorCodeIO, "shard rename")
	}
	w.cur = nil
	info := domain.ShardInfo{Path: c.path, Records: c.records, Bytes: c.bytes, Written: c.disk.n}
	w.done = append(w.done, info)
	w.log.Debug().
		Str("shard", c.path).
		Int64("records", info.Records).
		Int64("bytes", info.Bytes).
		Int64("written", info.Written).
		Msg("shard finalized")
	return nil
}

// Finalize closes the open shard, if any; later calls return nil
func (w *Writer) Finalize() error {
	if w.finalized || w.aborted {
		return nil
	}
	if err := w.closeCurrent(); err != nil {
		w.Abort()
		return err
	}
	w.finalized = true
	return nil
}

// Abort drops the open shard and its part file; finalized shards are kept
func (w *Writer) Abort() {
	if w.aborted {
		return
	}
	w.aborted = true
	if c := w.cur; c != nil {
		_ = c.f.Close()
		if err := os.Remove(c.path + PartSuffix); err != nil && !os.IsNotExist(err) {
			w.log.Warn().Err(err).Str("shard", c.path).Msg("remove part file")
		}
		w.cur = nil
	}
}

// Shards returns the finalized shards in creation order
func (w *Writer) Shards() []domain.ShardInfo {
	out := make([]domain.ShardInfo, len(w.done))
	copy(out, w.done)
	return out
}

// Totals sums encoded and on disk bytes of the finalized shards
func (w *Writer) Totals() (records, bytes, written int64) {
	for _, s := range w.done {
		records += s.Records
		bytes += s.Bytes
		written += s.Written
	}
	return records, bytes, written
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
