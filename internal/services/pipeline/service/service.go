// Package service provides the corpus pipeline orchestrator
package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oscartools/internal/adapters/corpus/codec"
	"oscartools/internal/adapters/corpus/compress"
	"oscartools/internal/adapters/corpus/locator"
	"oscartools/internal/adapters/corpus/shard"
	"oscartools/internal/adapters/corpus/stream"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/platform/logger"
	"oscartools/internal/services/pipeline/domain"
	"oscartools/internal/services/pipeline/guardrails"
	"oscartools/internal/services/pipeline/transform"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxDiagnostics caps the diagnostics kept per unit
const DefaultMaxDiagnostics = 100

// Config holds configuration options for the orchestrator
type Config struct {
	Workers   int // parallel units; <=0 -> 1
	Malformed domain.MalformedPolicy
	Mode      domain.TransformMode
	// MaxDiagnostics per unit; <=0 -> DefaultMaxDiagnostics
	MaxDiagnostics int
	// MaxFrame caps one serialized record; <=0 -> stream default
	MaxFrame int

	OutDir string
	// InCodec nil detects the codec from each file name
	InCodec codec.Codec
	// OutCodec nil keeps the input codec
	OutCodec codec.Codec
	// OutFormat Auto keeps the input compression
	OutFormat compress.Format
	Level     compress.Level
	Policy    shard.Policy

	JobID string
	// Resume skips units the ledger reports completed under JobID
	Resume bool
}

// Deps are the collaborators of the orchestrator
type Deps struct {
	Transform transform.Transform
	// Ledger is optional
	Ledger domain.Ledger
	// Lease is optional; it is held around each unit keyed by input path
	Lease guardrails.Lease
	// Open defaults to os.Open
	Open func(path string) (io.ReadCloser, error)
	Log  logger.Logger
}

// Service implements domain.RunnerPort
type Service struct {
	Cfg  Config
	deps Deps
}

// New constructs the orchestrator; a nil transform is a programmer error
func New(cfg Config, deps Deps) *Service {
	if deps.Transform == nil {
		panic("pipeline.Service requires a non nil Transform")
	}
	if deps.Open == nil {
		deps.Open = func(p string) (io.ReadCloser, error) { return os.Open(p) }
	}
	cfg.Workers = max(cfg.Workers, 1)
	if cfg.MaxDiagnostics <= 0 {
		cfg.MaxDiagnostics = DefaultMaxDiagnostics
	}
	if cfg.Malformed == "" {
		cfg.Malformed = domain.MalformedAbort
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeStrict
	}
	if cfg.OutFormat == "" {
		cfg.OutFormat = compress.Auto
	}
	return &Service{Cfg: cfg, deps: deps}
}

// unitPlan is the resolved input and output shape of one unit
type unitPlan struct {
	unit     domain.WorkUnit
	inCodec  codec.Codec
	inFormat compress.Format
	shard    shard.Config
}

// plan resolves every unit's codecs and output names and rejects collisions
// two distinct inputs that would write the same shard names are a configuration error
func (s *Service) plan(units []domain.WorkUnit) ([]unitPlan, error) {
	if err := s.Cfg.Policy.Check(); err != nil {
		return nil, err
	}
	if s.Cfg.OutDir == "" {
		return nil, perr.WithField(perr.Configf("output directory is required"), "output")
	}
	mapper, _ := s.deps.Transform.(transform.StemMapper)

	plans := make([]unitPlan, len(units))
	owner := map[string]string{}
	for i, u := range units {
		if u.Name == "" {
			u.Name = filepath.Base(u.Path)
		}
		inFormat, err := compress.ParseFormat(u.Format)
		if err != nil {
			return nil, perr.WithField(err, "input")
		}
		if inFormat == compress.Auto {
			inFormat = compress.Detect(u.Name)
		}
		u.Format = string(inFormat)
		if u.Stem == "" {
			u.Stem = locator.Stem(u.Name)
		}
		if u.Lang == "" {
			u.Lang = locator.Lang(u.Name)
		}

		in := s.Cfg.InCodec
		if in == nil {
			in = codec.Detect(compress.TrimExt(u.Name, inFormat))
		}
		out := s.Cfg.OutCodec
		if out == nil {
			out = in
		}
		format := s.Cfg.OutFormat
		if format == compress.Auto {
			format = inFormat
		}
		stem := u.Stem
		if mapper != nil {
			stem = mapper.MapStem(u.Lang, stem)
		}

		sc := shard.Config{
			Dir:    s.Cfg.OutDir,
			Stem:   stem,
			Codec:  out,
			Format: format,
			Level:  s.Cfg.Level,
			Policy: s.Cfg.Policy,
		}
		key := filepath.Join(s.Cfg.OutDir, stem+sc.Ext())
		if prev, ok := owner[key]; ok && prev != u.Path {
			return nil, perr.WithField(perr.Configf("inputs %s and %s both write %s", prev, u.Path, key), "output")
		}
		owner[key] = u.Path
		plans[i] = unitPlan{unit: u, inCodec: in, inFormat: inFormat, shard: sc}
	}
	if err := guardInputs(s.Cfg.OutDir, plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// guardInputs rejects a run where any shard name of any unit, including later
// bounded parts, is one of the inputs
func guardInputs(outDir string, plans []unitPlan) error {
	dir, err := filepath.Abs(outDir)
	if err != nil {
		return perr.WithField(perr.Wrap(err, perr.ErrorCodeConfiguration, "output path"), "output")
	}
	var inputs []string
	for _, p := range plans {
		in, err := filepath.Abs(p.unit.Path)
		if err != nil {
			return perr.WithField(perr.Wrapf(err, perr.ErrorCodeConfiguration, "input path %s", p.unit.Path), "input")
		}
		if filepath.Dir(in) == dir {
			inputs = append(inputs, in)
		}
	}
	for _, p := range plans {
		for _, in := range inputs {
			if p.shard.Owns(filepath.Base(in)) {
				return perr.WithField(perr.Configf("output of %s would overwrite input %s", p.unit.Path, in), "output")
			}
		}
	}
	return nil
}

// Run implements domain.RunnerPort
// unit failures are reported in the Report; the error is for run level problems
func (s *Service) Run(ctx context.Context, units []domain.WorkUnit) (domain.Report, error) {
	rep := domain.Report{JobID: s.Cfg.JobID}
	plans, err := s.plan(units)
	if err != nil {
		return rep, err
	}

	var done map[string]bool
	if s.Cfg.Resume && s.deps.Ledger != nil {
		done, err = s.deps.Ledger.Completed(ctx, s.Cfg.JobID)
		if err != nil {
			return rep, err
		}
	}

	results := make([]domain.UnitResult, len(plans))
	var mu sync.Mutex
	collect := func(i int, r domain.UnitResult) {
		mu.Lock()
		results[i] = r
		mu.Unlock()
	}

	// no WithContext: a failed unit never cancels its siblings
	var g errgroup.Group
	g.SetLimit(s.Cfg.Workers)
	for i, p := range plans {
		if done[p.unit.Path] {
			collect(i, domain.UnitResult{Unit: p.unit, State: domain.StateCompleted, Resumed: true})
			continue
		}
		if ctx.Err() != nil {
			collect(i, cancelled(p.unit, ctx.Err()))
			continue
		}
		g.Go(func() error {
			collect(i, s.runUnit(ctx, p))
			return nil
		})
	}
	_ = g.Wait()

	rep.Units = results
	return rep, nil
}

func (s *Service) runUnit(ctx context.Context, p unitPlan) domain.UnitResult {
	if err := ctx.Err(); err != nil {
		return cancelled(p.unit, err)
	}
	ctx = logger.WithUnit(ctx, s.Cfg.JobID, p.unit.Path)

	var res domain.UnitResult
	run := func(ctx context.Context) error {
		res = s.runUnitLocked(ctx, p)
		return nil
	}
	if s.deps.Lease == nil {
		_ = run(ctx)
		return res
	}
	if err := s.deps.Lease(ctx, p.unit.Path, run); err != nil {
		if errors.Is(err, guardrails.ErrLeaseHeld) {
			err = perr.Wrap(err, perr.ErrorCodeUnknown, "unit is running elsewhere")
		}
		if perr.IsCode(err, perr.ErrorCodeCancelled) {
			return cancelled(p.unit, err)
		}
		return domain.UnitResult{Unit: p.unit, State: domain.StateFailed, Err: err, Diagnostics: []domain.Diagnostic{domain.DiagnosticOf(err)}}
	}
	return res
}

func (s *Service) runUnitLocked(ctx context.Context, p unitPlan) (res domain.UnitResult) {
	log := s.deps.Log.With().Str("job_id", s.Cfg.JobID).Str("unit", p.unit.Path).Logger()
	start := time.Now()

	if s.deps.Ledger != nil {
		if err := s.deps.Ledger.StartUnit(ctx, s.Cfg.JobID, p.unit); err != nil {
			log.Warn().Err(err).Msg("ledger start failed")
		}
		defer func() {
			if err := s.deps.Ledger.FinishUnit(context.WithoutCancel(ctx), s.Cfg.JobID, res); err != nil {
				log.Warn().Err(err).Msg("ledger finish failed")
			}
		}()
	}

	res = s.process(ctx, p, log)
	res.Elapsed = time.Since(start)

	ev := log.Info()
	if res.State == domain.StateFailed {
		ev = log.Error().Err(res.Err).Str("kind", res.Kind().String())
	}
	ev.Int64("read", res.Counters.Read).
		Int64("kept", res.Counters.Kept).
		Int64("dropped", res.Counters.Dropped).
		Int64("skipped", res.Counters.Skipped).
		Int64("malformed", res.Counters.Malformed).
		Int("shards", len(res.Shards)).
		Dur("elapsed", res.Elapsed).
		Msg("unit " + res.State.String())
	return res
}

// process streams one unit through the transform into its shards
func (s *Service) process(ctx context.Context, p unitPlan, log logger.Logger) domain.UnitResult {
	res := domain.UnitResult{Unit: p.unit, State: domain.StateRunning}
	diags := diagnostics{max: s.Cfg.MaxDiagnostics}
	fail := func(err error) domain.UnitResult {
		res.State = domain.StateFailed
		res.Err = err
		diags.add(err)
		res.Diagnostics, res.DiagnosticsDropped = diags.list, diags.dropped
		return res
	}

	rc, err := s.deps.Open(p.unit.Path)
	if err != nil {
		return fail(perr.Wrapf(err, perr.ErrorCodeIO, "open %s", p.unit.Path))
	}
	st, err := stream.Open(rc, p.inFormat, p.inCodec, stream.WithMaxFrame(s.Cfg.MaxFrame))
	if err != nil {
		return fail(err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("close input")
		}
	}()

	sc := p.shard
	sc.Log = &log
	w, err := shard.New(sc)
	if err != nil {
		return fail(err)
	}

	c := &res.Counters
	var cause error
loop:
	for {
		if err := ctx.Err(); err != nil {
			cause = perr.Cancelled(err)
			break
		}
		rec, err := st.Next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			break loop
		case perr.IsCode(err, perr.ErrorCodeMalformed):
			c.Malformed++
			if s.Cfg.Malformed == domain.MalformedAbort {
				cause = err
				break loop
			}
			diags.add(err)
			continue
		default:
			cause = err
			break loop
		}

		c.Read++
		out := s.deps.Transform.Apply(rec)
		switch out.Kind {
		case transform.Keep, transform.KeepModified:
			// a record already read is routed even when ctx ends meanwhile;
			// cancellation is observed at the top of the loop
			if err := w.Route(context.WithoutCancel(ctx), out.Record); err != nil {
				if perr.IsCode(err, perr.ErrorCodeMalformed) && s.Cfg.Malformed == domain.MalformedSkip {
					off, idx := st.Position()
					c.Malformed++
					diags.add(perr.WithPosition(err, off, idx))
					continue
				}
				cause = err
				break loop
			}
			c.Kept++
			if out.Kind == transform.KeepModified {
				c.Modified++
			}
		case transform.Drop:
			c.Dropped++
		case transform.Fail:
			off, idx := st.Position()
			terr := out.Err
			if terr == nil {
				terr = perr.Transformf("%s refused the record", s.deps.Transform.Name())
			}
			terr = perr.WithPosition(terr, off, idx)
			if s.Cfg.Mode == domain.ModeStrict {
				cause = terr
				break loop
			}
			c.Skipped++
			diags.add(terr)
		}
	}

	// records already routed stay recoverable; a writer aborted by a write
	// failure ignores Finalize
	if err := w.Finalize(); err != nil && cause == nil {
		cause = err
	}

	ss := st.Stats()
	c.BytesIn, c.BytesDecoded = ss.CompressedBytes, ss.Bytes
	_, c.BytesOut, c.BytesWritten = w.Totals()
	res.Shards = w.Shards()

	if cause != nil {
		return fail(cause)
	}
	res.State = domain.StateCompleted
	res.Diagnostics, res.DiagnosticsDropped = diags.list, diags.dropped
	return res
}

// diagnostics is a capped list plus an overflow counter
type diagnostics struct {
	max     int
	list    []domain.Diagnostic
	dropped int
}

func (d *diagnostics) add(err error) {
	if len(d.list) >= d.max {
		d.dropped++
		return
	}
	d.list = append(d.list, domain.DiagnosticOf(err))
}

func cancelled(u domain.WorkUnit, cause error) domain.UnitResult {
	err := cause
	if !perr.IsCode(err, perr.ErrorCodeCancelled) {
		err = perr.Cancelled(cause)
	}
	return domain.UnitResult{Unit: u, State: domain.StateFailed, Err: err}
}

var _ domain.RunnerPort = (*Service)(nil)
