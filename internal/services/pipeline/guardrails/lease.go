// Package guardrails keeps two workers from processing the same input at once
package guardrails

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"oscartools/internal/modkit/repokit"
	perr "oscartools/internal/platform/errors"
)

// ErrLeaseHeld signals another worker owns the unit already
var ErrLeaseHeld = errors.New("pipeline: unit lease already held")

// Lease runs do while holding the key
type Lease func(ctx context.Context, key string, do func(context.Context) error) error

// Keyed is an in process lease table; the zero value is ready to use
type Keyed struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewKeyed returns an empty lease table
func NewKeyed() *Keyed { return &Keyed{} }

func (k *Keyed) claim(key string) (release func(), wait <-chan struct{}) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.held == nil {
		k.held = make(map[string]chan struct{})
	}
	if ch, ok := k.held[key]; ok {
		return nil, ch
	}
	ch := make(chan struct{})
	k.held[key] = ch
	return func() {
		k.mu.Lock()
		delete(k.held, key)
		k.mu.Unlock()
		close(ch)
	}, nil
}

// Do blocks until key is free or ctx is done, then runs do
func (k *Keyed) Do(ctx context.Context, key string, do func(context.Context) error) error {
	for {
		release, wait := k.claim(key)
		if release != nil {
			defer release()
			return do(ctx)
		}
		select {
		case <-ctx.Done():
			return perr.Cancelled(ctx.Err())
		case <-wait:
		}
	}
}

// TryDo runs do only when key is free, ErrLeaseHeld otherwise
func (k *Keyed) TryDo(ctx context.Context, key string, do func(context.Context) error) error {
	release, _ := k.claim(key)
	if release == nil {
		return ErrLeaseHeld
	}
	defer release()
	return do(ctx)
}

// Held reports whether key is currently leased
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

// MakeLedgerLease claims (jobID, key) in pipeline_leases so processes sharing
// a ledger never run the same unit together. A claim older than ttl is
// reclaimed, which covers a crashed owner. The row is removed when do returns.
// It assumes the pipeline_leases table exists.
func MakeLedgerLease(db repokit.TxRunner, jobID, owner string, ttl time.Duration) Lease {
	owner = fmt.Sprintf("%s:%d", owner, os.Getpid())
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}

	return func(ctx context.Context, key string, do func(context.Context) error) error {
		var claimed bool
		err := db.Tx(ctx, func(q repokit.Queryer) error {
			now := time.Now().UnixMilli()
			rows, err := q.Query(ctx, `
				INSERT INTO pipeline_leases (job_id, path, owner, expires_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (job_id, path) DO UPDATE
				   SET owner = excluded.owner, expires_at = excluded.expires_at
				 WHERE pipeline_leases.expires_at <= ?
				RETURNING owner
			`, jobID, key, owner, now+ttl.Milliseconds(), now)
			if err != nil {
				return err
			}
			defer rows.Close()
			claimed = rows.Next()
			return rows.Err()
		})
		if err != nil {
			return perr.Wrap(err, perr.ErrorCodeIO, "claim unit lease")
		}
		if !claimed {
			return ErrLeaseHeld
		}
		defer func() {
			// release on a fresh context so a cancelled run still frees the row
			_, _ = db.Exec(context.WithoutCancel(ctx),
				`DELETE FROM pipeline_leases WHERE job_id = ? AND path = ? AND owner = ?`, jobID, key, owner)
		}()
		return do(ctx)
	}
}

// Chain holds every lease in order around do
func Chain(leases ...Lease) Lease {
	return func(ctx context.Context, key string, do func(context.Context) error) error {
		run := do
		for i := len(leases) - 1; i >= 0; i-- {
			l, next := leases[i], run
			if l == nil {
				continue
			}
			run = func(ctx context.Context) error { return l(ctx, key, next) }
		}
		return run(ctx)
	}
}
