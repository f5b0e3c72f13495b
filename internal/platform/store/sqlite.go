package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	perr "oscartools/internal/platform/errors"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// openSQLite opens the database file and applies connection pragmas
func openSQLite(ctx context.Context, cfg SQLiteConfig, s *Store) (*sqliteAdapter, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, perr.Configf("sqlite: empty path")
	}
	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "sqlite: open")
	}
	// one writer connection keeps the file lock simple; reads are light
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, perr.Wrapf(err, perr.ErrorCodeIO, "sqlite: %s", p)
		}
	}

	a := &sqliteAdapter{db: db, slowMs: cfg.SlowQueryMs}
	if cfg.LogSQL {
		a.tracer = Tracer(s.Log)
	}
	s.Log.Debug().Str("path", path).Msg("sqlite opened")
	return a, nil
}

// sqliteAdapter wraps *sql.DB and implements RowQuerier + TxRunner
// it also emits query trace events when a tracer is configured
type sqliteAdapter struct {
	db     *sql.DB
	tracer QueryTracer
	slowMs int
}

func (a *sqliteAdapter) Ping(ctx context.Context) error {
	if a == nil || a.db == nil {
		return errors.New("sqlite: nil adapter")
	}
	return a.db.PingContext(ctx)
}

func (a *sqliteAdapter) Close() error { return a.db.Close() }

func (a *sqliteAdapter) Exec(ctx context.Context, q string, args ...any) (CommandTag, error) {
	return execOn(ctx, a.db, a.emitter(), q, args)
}

func (a *sqliteAdapter) Query(ctx context.Context, q string, args ...any) (Rows, error) {
	return queryOn(ctx, a.db, a.emitter(), q, args)
}

func (a *sqliteAdapter) QueryRow(ctx context.Context, q string, args ...any) Row {
	return queryRowOn(ctx, a.db, a.emitter(), q, args)
}

func (a *sqliteAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(txQuerier{tx: tx, emit: a.emitter()}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (a *sqliteAdapter) emitter() emitFunc {
	if a.tracer == nil {
		return nil
	}
	slowUS := int64(a.slowMs) * 1000
	return func(ctx context.Context, q string, args []any, start time.Time, err error) {
		elapsedUS := time.Since(start).Microseconds()
		a.tracer.OnQuery(ctx, QueryEvent{
			SQL:       q,
			Args:      args,
			ElapsedUS: elapsedUS,
			Err:       err,
			Slow:      slowUS > 0 && elapsedUS >= slowUS,
		})
	}
}

type emitFunc func(ctx context.Context, q string, args []any, start time.Time, err error)

func (f emitFunc) call(ctx context.Context, q string, args []any, start time.Time, err error) {
	if f != nil {
		f(ctx, q, args, start, err)
	}
}

// conn is the part of *sql.DB and *sql.Tx the helpers need
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execOn(ctx context.Context, c conn, emit emitFunc, q string, args []any) (CommandTag, error) {
	start := time.Now()
	res, err := c.ExecContext(ctx, q, args...)
	emit.call(ctx, q, args, start, err)
	if err != nil {
		return nil, err
	}
	return tag{verb: firstWord(q), res: res}, nil
}

func queryOn(ctx context.Context, c conn, emit emitFunc, q string, args []any) (Rows, error) {
	start := time.Now()
	rs, err := c.QueryContext(ctx, q, args...)
	emit.call(ctx, q, args, start, err)
	if err != nil {
		return nil, err
	}
	return &rows{r: rs}, nil
}

func queryRowOn(ctx context.Context, c conn, emit emitFunc, q string, args []any) Row {
	start := time.Now()
	r := c.QueryRowContext(ctx, q, args...)
	// wrap to emit after Scan completes, capturing error from Scan
	return row{r: r, after: func(scanErr error) { emit.call(ctx, q, args, start, scanErr) }}
}

// adapters for database/sql to our tiny Row/Rows/CommandTag

type row struct {
	r     *sql.Row
	after func(error)
}

func (x row) Scan(dst ...any) error {
	err := x.r.Scan(dst...)
	if x.after != nil {
		x.after(err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return perr.Wrap(err, perr.ErrorCodeNotFound, "no rows")
	}
	return err
}

type rows struct {
	r    *sql.Rows
	cols []string
}

func (x *rows) Next() bool            { return x.r.Next() }
func (x *rows) Scan(dst ...any) error { return x.r.Scan(dst...) }
func (x *rows) Err() error            { return x.r.Err() }
func (x *rows) Close()                { _ = x.r.Close() }
func (x *rows) Columns() []string {
	if x.cols == nil {
		x.cols, _ = x.r.Columns()
	}
	return x.cols
}

type tag struct {
	verb string
	res  sql.Result
}

func (t tag) String() string { return fmt.Sprintf("%s %d", t.verb, t.RowsAffected()) }
func (t tag) RowsAffected() int64 {
	n, err := t.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func firstWord(q string) string {
	q = strings.TrimSpace(q)
	if i := strings.IndexAny(q, " \t\n"); i > 0 {
		q = q[:i]
	}
	return strings.ToUpper(q)
}

// txQuerier uses *sql.Tx to satisfy RowQuerier inside a Tx
// queries inside transactions are traced like the adapter's
type txQuerier struct {
	tx   *sql.Tx
	emit emitFunc
}

func (t txQuerier) Exec(ctx context.Context, q string, args ...any) (CommandTag, error) {
	return execOn(ctx, t.tx, t.emit, q, args)
}

func (t txQuerier) Query(ctx context.Context, q string, args ...any) (Rows, error) {
	return queryOn(ctx, t.tx, t.emit, q, args)
}

func (t txQuerier) QueryRow(ctx context.Context, q string, args ...any) Row {
	return queryRowOn(ctx, t.tx, t.emit, q, args)
}
