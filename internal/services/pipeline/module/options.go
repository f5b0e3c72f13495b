package module

import (
	"oscartools/internal/platform/config"
	"oscartools/internal/services/pipeline/transform"
)

// Options holds configuration options for one pipeline run
// flag tags name the cobra flags and the fields in validation messages
type Options struct {
	Preset string `flag:"preset" validate:"required"`
	Input  string `flag:"input" validate:"required"`
	Output string `flag:"output" validate:"required"`

	Workers        int    `flag:"workers" validate:"min=1,max=1024"`
	OnMalformed    string `flag:"on-malformed" validate:"oneof=abort skip"`
	Mode           string `flag:"mode" validate:"oneof=strict lenient"`
	MaxDiagnostics int    `flag:"max-diagnostics" validate:"min=0"`
	// MaxFrame is a humanized size, eg 32MiB
	MaxFrame string `flag:"max-frame"`

	ShardPolicy string `flag:"shard-policy" validate:"omitempty,oneof=unbounded bytes records"`
	ShardLimit  string `flag:"shard-limit"`

	// Compression of the output; auto keeps the input's
	Compression string `flag:"compression" validate:"oneof=auto none gzip zstd lz4"`
	Level       string `flag:"compression-level" validate:"oneof=default fastest best"`
	// InputCodec forces the input codec; empty detects from the file name
	InputCodec string `flag:"input-codec" validate:"omitempty,oneof=jsonl text"`

	// LangTable is an optional yaml mapping file
	LangTable string `flag:"lang-table"`

	Clean transform.CleanPolicy

	// Ledger is an optional sqlite file recording unit progress
	Ledger       string `flag:"ledger"`
	Resume       bool   `flag:"resume"`
	LedgerLogSQL bool   `flag:"ledger-log-sql"`
}

// FromConfig reads defaults from env with OSCAR_PIPELINE_ and OSCAR_LEDGER_ prefixes
// flags given on the command line override these
func FromConfig(cfg config.Conf) Options {
	pl := cfg.Prefix("OSCAR_PIPELINE_")
	ld := cfg.Prefix("OSCAR_LEDGER_")
	cl := pl.Prefix("CLEAN_")

	def := transform.DefaultCleanPolicy()
	return Options{
		Workers:        pl.MayInt("WORKERS", 4),
		OnMalformed:    pl.MayString("ON_MALFORMED", "abort"),
		Mode:           pl.MayString("MODE", "strict"),
		MaxDiagnostics: pl.MayInt("MAX_DIAGNOSTICS", 100),
		MaxFrame:       pl.MayString("MAX_FRAME", "32MiB"),
		ShardPolicy:    pl.MayString("SHARD_POLICY", ""),
		ShardLimit:     pl.MayString("SHARD_LIMIT", ""),
		Compression:    pl.MayString("COMPRESSION", "auto"),
		Level:          pl.MayString("COMPRESSION_LEVEL", "default"),
		InputCodec:     pl.MayString("INPUT_CODEC", ""),
		LangTable:      pl.MayString("LANG_TABLE", ""),
		Clean: transform.CleanPolicy{
			MinLength:           cl.MayInt("MIN_LENGTH", def.MinLength),
			MaxLength:           cl.MayInt("MAX_LENGTH", def.MaxLength),
			MinLines:            cl.MayInt("MIN_LINES", def.MinLines),
			MinLangProb:         cl.MayFloat64("MIN_LANG_PROB", def.MinLangProb),
			MinHarmfulPP:        cl.MayFloat64("MIN_HARMFUL_PP", def.MinHarmfulPP),
			RejectAnnotations:   cl.MayCSV("REJECT_ANNOTATIONS", def.RejectAnnotations),
			RejectAnyAnnotation: cl.MayBool("REJECT_ANY_ANNOTATION", def.RejectAnyAnnotation),
		},
		Ledger:       ld.MayString("PATH", ""),
		Resume:       ld.MayBool("RESUME", false),
		LedgerLogSQL: ld.MayBool("LOG_SQL", false),
	}
}
