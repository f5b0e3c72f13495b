package repo

import (
	"context"
	"sync"

	"oscartools/internal/modkit/repokit"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/services/pipeline/domain"
)

// TxLedger implements domain.Ledger over a bound repo, one transaction per call
type TxLedger struct {
	db   repokit.TxRunner
	bind repokit.Binder[domain.LedgerRepo]
}

// NewTxLedger binds b per transaction on db
func NewTxLedger(db repokit.TxRunner, b repokit.Binder[domain.LedgerRepo]) *TxLedger {
	if db == nil {
		panic("repo: nil TxRunner")
	}
	return &TxLedger{db: db, bind: b}
}

// StartUnit implements domain.Ledger
func (l *TxLedger) StartUnit(ctx context.Context, jobID string, u domain.WorkUnit) error {
	return l.tx(ctx, "start unit", func(r domain.LedgerRepo) error { return r.StartUnit(ctx, jobID, u) })
}

// FinishUnit implements domain.Ledger
func (l *TxLedger) FinishUnit(ctx context.Context, jobID string, res domain.UnitResult) error {
	return l.tx(ctx, "finish unit", func(r domain.LedgerRepo) error { return r.FinishUnit(ctx, jobID, res) })
}

// Completed implements domain.Ledger
func (l *TxLedger) Completed(ctx context.Context, jobID string) (map[string]bool, error) {
	var paths []string
	err := l.tx(ctx, "completed units", func(r domain.LedgerRepo) error {
		var err error
		paths, err = r.CompletedPaths(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(paths))
	for _, p := range paths {
		out[p] = true
	}
	return out, nil
}

func (l *TxLedger) tx(ctx context.Context, op string, fn func(domain.LedgerRepo) error) error {
	err := repokit.WithTx(ctx, l.db, func(q repokit.Queryer) error {
		return fn(repokit.MustBind(l.bind, q))
	})
	if err != nil {
		if _, ok := perr.As(err); !ok {
			err = perr.Wrap(err, perr.ErrorCodeIO, "ledger")
		}
		return perr.WithOp(err, op)
	}
	return nil
}

// Memory is an in process Ledger for runs without a ledger file
type Memory struct {
	mu    sync.Mutex
	units map[string]map[string]domain.UnitState
}

// NewMemory returns an empty Memory ledger
func NewMemory() *Memory { return &Memory{units: map[string]map[string]domain.UnitState{}} }

// StartUnit implements domain.Ledger
func (m *Memory) StartUnit(_ context.Context, jobID string, u domain.WorkUnit) error {
	m.set(jobID, u.Path, domain.StateRunning)
	return nil
}

// FinishUnit implements domain.Ledger
func (m *Memory) FinishUnit(_ context.Context, jobID string, res domain.UnitResult) error {
	m.set(jobID, res.Unit.Path, res.State)
	return nil
}

// Completed implements domain.Ledger
func (m *Memory) Completed(_ context.Context, jobID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for p, s := range m.units[jobID] {
		if s == domain.StateCompleted {
			out[p] = true
		}
	}
	return out, nil
}

// State returns the last recorded state of a unit
func (m *Memory) State(jobID, path string) (domain.UnitState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.units[jobID][path]
	return s, ok
}

func (m *Memory) set(jobID, path string, s domain.UnitState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.units[jobID] == nil {
		m.units[jobID] = map[string]domain.UnitState{}
	}
	m.units[jobID][path] = s
}

var (
	_ domain.Ledger = (*TxLedger)(nil)
	_ domain.Ledger = (*Memory)(nil)
)
