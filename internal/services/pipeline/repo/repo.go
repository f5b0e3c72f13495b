// Package repo provides sqlite access for the unit ledger
package repo

import (
	"context"
	"time"

	"oscartools/internal/modkit/repokit"
	"oscartools/internal/services/pipeline/domain"
)

// Schema creates the ledger tables; every statement is idempotent
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_units (
		job_id        TEXT    NOT NULL,
		path          TEXT    NOT NULL,
		lang          TEXT    NOT NULL DEFAULT '',
		status        TEXT    NOT NULL,
		started_at    INTEGER NOT NULL,
		finished_at   INTEGER,
		records_read  INTEGER NOT NULL DEFAULT 0,
		records_kept  INTEGER NOT NULL DEFAULT 0,
		records_mod   INTEGER NOT NULL DEFAULT 0,
		dropped       INTEGER NOT NULL DEFAULT 0,
		skipped       INTEGER NOT NULL DEFAULT 0,
		malformed     INTEGER NOT NULL DEFAULT 0,
		bytes_in      INTEGER NOT NULL DEFAULT 0,
		bytes_out     INTEGER NOT NULL DEFAULT 0,
		bytes_written INTEGER NOT NULL DEFAULT 0,
		shards        INTEGER NOT NULL DEFAULT 0,
		error_kind    TEXT,
		error         TEXT,
		elapsed_ms    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (job_id, path)
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_units_status ON pipeline_units (job_id, status)`,
	`CREATE TABLE IF NOT EXISTS pipeline_leases (
		job_id     TEXT    NOT NULL,
		path       TEXT    NOT NULL,
		owner      TEXT    NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, path)
	)`,
}

// Migrate applies Schema in one transaction
func Migrate(ctx context.Context, tx repokit.TxRunner) error {
	return repokit.Migrate(ctx, tx, Schema...)
}

type queries struct{ q repokit.Queryer }

// NewSQLite returns a sqlite binder for domain.LedgerRepo
func NewSQLite() repokit.Binder[domain.LedgerRepo] {
	return repokit.BindFunc[domain.LedgerRepo](func(q repokit.Queryer) domain.LedgerRepo {
		return &queries{q: q}
	})
}

// StartUnit marks a unit running (idempotent, a rerun resets the row)
func (r *queries) StartUnit(ctx context.Context, jobID string, u domain.WorkUnit) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO pipeline_units (job_id, path, lang, status, started_at)
		VALUES (?, ?, ?, 'running', ?)
		ON CONFLICT (job_id, path) DO UPDATE
		SET status = 'running', started_at = excluded.started_at, finished_at = NULL,
		    error_kind = NULL, error = NULL
	`, jobID, u.Path, u.Lang, time.Now().UnixMilli())
	return err
}

// FinishUnit stores the terminal state and counters of a unit
func (r *queries) FinishUnit(ctx context.Context, jobID string, res domain.UnitResult) error {
	c := res.Counters
	var kind, msg any
	if res.Err != nil {
		kind, msg = res.Kind().String(), res.Err.Error()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO pipeline_units (
			job_id, path, lang, status, started_at, finished_at,
			records_read, records_kept, records_mod, dropped, skipped, malformed,
			bytes_in, bytes_out, bytes_written, shards, error_kind, error, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, path) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			records_read = excluded.records_read,
			records_kept = excluded.records_kept,
			records_mod = excluded.records_mod,
			dropped = excluded.dropped,
			skipped = excluded.skipped,
			malformed = excluded.malformed,
			bytes_in = excluded.bytes_in,
			bytes_out = excluded.bytes_out,
			bytes_written = excluded.bytes_written,
			shards = excluded.shards,
			error_kind = excluded.error_kind,
			error = excluded.error,
			elapsed_ms = excluded.elapsed_ms
	`,
		jobID, res.Unit.Path, res.Unit.Lang, res.State.String(), time.Now().UnixMilli(), time.Now().UnixMilli(),
		c.Read, c.Kept, c.Modified, c.Dropped, c.Skipped, c.Malformed,
		c.BytesIn, c.BytesOut, c.BytesWritten, len(res.Shards), kind, msg, res.Elapsed.Milliseconds(),
	)
	return err
}

// CompletedPaths lists the units of jobID that finished successfully
func (r *queries) CompletedPaths(ctx context.Context, jobID string) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT path FROM pipeline_units
		WHERE job_id = ? AND status = 'completed'
		ORDER BY path
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
