package main

import (
	"context"

	"oscartools/internal/core/version"
	"oscartools/internal/modkit"
	"oscartools/internal/platform/config"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/platform/logger"
	"oscartools/internal/platform/store"
	"oscartools/internal/services/pipeline/domain"
	pipeline "oscartools/internal/services/pipeline/module"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRoot(code *int) *cobra.Command {
	root := &cobra.Command{
		Use:           "oscar-tools",
		Short:         "Streaming tools for OSCAR corpus files",
		Version:       version.Info().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Version}}\n")
	cfg := config.New()
	for _, p := range pipeline.Presets() {
		root.AddCommand(newPresetCmd(p, cfg, code))
	}
	return root
}

func newPresetCmd(p pipeline.Preset, cfg config.Conf, code *int) *cobra.Command {
	o := pipeline.FromConfig(cfg)
	o.Preset = p.Name

	cmd := &cobra.Command{
		Use:   p.Name + " <source> <destination>",
		Short: p.Short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Input, o.Output = args[0], args[1]
			rep, err := run(cmd.Context(), cfg, o)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			logFailures(rep)
			*code = rep.ExitCode()
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.Workers, "workers", "j", o.Workers, "units processed in parallel")
	f.StringVar(&o.OnMalformed, "on-malformed", o.OnMalformed, "malformed record policy: abort | skip")
	f.StringVar(&o.Mode, "mode", o.Mode, "transform failure mode: strict | lenient")
	f.IntVar(&o.MaxDiagnostics, "max-diagnostics", o.MaxDiagnostics, "diagnostics kept per unit")
	f.StringVar(&o.MaxFrame, "max-frame", o.MaxFrame, "largest accepted record, eg 32MiB")
	f.StringVar(&o.Compression, "compression", o.Compression, "output compression: auto | none | gzip | zstd | lz4")
	f.StringVar(&o.Level, "compression-level", o.Level, "compression level: default | fastest | best")
	f.StringVar(&o.InputCodec, "input-codec", o.InputCodec, "force the input codec: jsonl | text")
	addShardFlags(f, p, &o)
	addLedgerFlags(f, &o)

	switch p.Name {
	case pipeline.UpdateLangCodes:
		f.StringVar(&o.LangTable, "lang-table", o.LangTable, "yaml file replacing the built in language table")
	case pipeline.ExtractCleanCorpus:
		addCleanFlags(f, &o)
	}
	return cmd
}

func addShardFlags(f *pflag.FlagSet, p pipeline.Preset, o *pipeline.Options) {
	usage := "shard policy: unbounded | bytes | records"
	if p.Bounded {
		usage = "shard policy: bytes | records"
	}
	f.StringVar(&o.ShardPolicy, "shard-policy", o.ShardPolicy, usage)
	f.StringVar(&o.ShardLimit, "shard-limit", o.ShardLimit, "shard size (eg 500MB) or record count")
}

func addLedgerFlags(f *pflag.FlagSet, o *pipeline.Options) {
	f.StringVar(&o.Ledger, "ledger", o.Ledger, "sqlite file recording unit progress")
	f.BoolVar(&o.Resume, "resume", o.Resume, "skip units the ledger has completed")
	f.BoolVar(&o.LedgerLogSQL, "ledger-log-sql", o.LedgerLogSQL, "log ledger queries")
}

func addCleanFlags(f *pflag.FlagSet, o *pipeline.Options) {
	c := &o.Clean
	f.IntVar(&c.MinLength, "min-length", c.MinLength, "minimum content length in characters")
	f.IntVar(&c.MaxLength, "max-length", c.MaxLength, "maximum content length in characters, 0 for none")
	f.IntVar(&c.MinLines, "min-lines", c.MinLines, "minimum number of lines")
	f.Float64Var(&c.MinLangProb, "min-lang-prob", c.MinLangProb, "minimum document language probability")
	f.Float64Var(&c.MinHarmfulPP, "min-harmful-pp", c.MinHarmfulPP, "minimum harmful perplexity")
	f.StringSliceVar(&c.RejectAnnotations, "reject-annotation", c.RejectAnnotations, "annotations that drop a record")
	f.BoolVar(&c.RejectAnyAnnotation, "reject-any-annotation", c.RejectAnyAnnotation, "drop every annotated record")
}

// run validates o, opens the optional ledger and processes every unit
func run(ctx context.Context, cfg config.Conf, o pipeline.Options) (rep domain.Report, err error) {
	if err := pipeline.Validate(o); err != nil {
		return rep, err
	}
	log := logger.Get()
	deps := modkit.Deps{Log: *log, Cfg: cfg}

	if o.Ledger != "" {
		st, err := store.Open(ctx, store.Config{
			AppName: "oscar-tools",
			SQLite: store.SQLiteConfig{
				Enabled: true,
				Path:    o.Ledger,
				LogSQL:  o.LedgerLogSQL,
			},
		}, store.WithLogger(*log))
		if err != nil {
			return rep, perr.WithField(perr.WrapIf(err, perr.ErrorCodeIO, "open ledger"), "ledger")
		}
		defer func() {
			if cerr := st.Close(context.WithoutCancel(ctx)); cerr != nil {
				log.Error().Err(cerr).Msg("failed to close ledger")
			}
		}()
		deps.DB = st.SQL
	}

	m, err := pipeline.New(ctx, deps, o, modkit.WithName(o.Preset))
	if err != nil {
		return rep, err
	}
	log.Info().Str("command", m.Name()).Str("job_id", m.JobID()).
		Str("input", o.Input).Str("output", o.Output).
		Str("shards", m.Resolved().Service.Policy.String()).
		Msg("run starting")
	return m.Run(ctx)
}
