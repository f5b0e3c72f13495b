// Package module provides the pipeline module: option resolution, presets and wiring
package module

import (
	"context"

	"oscartools/internal/adapters/corpus/locator"
	"oscartools/internal/modkit"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/services/pipeline/domain"
	"oscartools/internal/services/pipeline/guardrails"
	"oscartools/internal/services/pipeline/repo"
	"oscartools/internal/services/pipeline/service"
)

// LeaseOwner names this process in ledger leases
const LeaseOwner = "oscar-tools"

// Ports defines the pipeline module ports
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements the pipeline module
type Module struct {
	name  string
	deps  modkit.Deps
	opts  Options
	res   Resolved
	ports Ports
}

// New resolves opts and wires the orchestrator
// with deps.DB set the ledger and the cross process lease live in sqlite,
// otherwise progress is kept in memory for the run
func New(ctx context.Context, deps modkit.Deps, opts Options, mopts ...modkit.Option) (*Module, error) {
	b := modkit.Build(mopts...)
	log := b.LoggerOr(deps.Log)

	res, err := Resolve(opts)
	if err != nil {
		return nil, err
	}

	keyed := guardrails.NewKeyed()
	lease := guardrails.Lease(keyed.Do)
	var ledger domain.Ledger = repo.NewMemory()
	if deps.HasDB() {
		if err := repo.Migrate(ctx, deps.DB); err != nil {
			return nil, perr.WithOp(perr.WrapIf(err, perr.ErrorCodeIO, "ledger migrate"), "ledger")
		}
		ledger = repo.NewTxLedger(deps.DB, repo.NewSQLite())
		lease = guardrails.Chain(keyed.Do, guardrails.MakeLedgerLease(deps.DB, res.JobID, LeaseOwner, 0))
	}

	svc := service.New(res.Service, service.Deps{
		Transform: res.Transform,
		Ledger:    ledger,
		Lease:     lease,
		Log:       log.With().Str("component", "pipeline").Str("preset", res.Preset.Name).Logger(),
	})

	name := b.Name
	if name == "" {
		name = res.Preset.Name
	}
	m := &Module{name: name, deps: deps, opts: opts, res: res}
	m.ports = Ports{Runner: svc}
	return m, nil
}

// Name returns the module name
func (m *Module) Name() string { return m.name }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// JobID is the deterministic id of this run
func (m *Module) JobID() string { return m.res.JobID }

// Resolved returns the validated configuration
func (m *Module) Resolved() Resolved { return m.res }

// Units enumerates the input into work units
func (m *Module) Units() ([]domain.WorkUnit, error) {
	return UnitsOf(m.opts.Input)
}

// Run locates the input and runs every unit
func (m *Module) Run(ctx context.Context) (domain.Report, error) {
	units, err := m.Units()
	if err != nil {
		return domain.Report{JobID: m.res.JobID}, err
	}
	return m.ports.Runner.Run(ctx, units)
}

// UnitsOf turns the files under input into work units
func UnitsOf(input string) ([]domain.WorkUnit, error) {
	entries, err := locator.Locate(input)
	if err != nil {
		return nil, err
	}
	out := make([]domain.WorkUnit, len(entries))
	for i, e := range entries {
		out[i] = domain.WorkUnit{
			Path:   e.Path,
			Name:   e.Name,
			Lang:   e.Lang,
			Stem:   e.Stem(),
			Format: string(e.Format),
			Size:   e.Size,
		}
	}
	return out, nil
}

var _ modkit.Module = (*Module)(nil)
