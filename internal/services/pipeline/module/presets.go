package module

import (
	"strings"

	"oscartools/internal/adapters/corpus/codec"
	"oscartools/internal/adapters/corpus/compress"
	"oscartools/internal/adapters/corpus/shard"
	"oscartools/internal/core/langcode"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/services/pipeline/transform"
)

// Preset is one command: a transform plus its output defaults
type Preset struct {
	Name  string
	Short string
	// Build returns the transform for validated options
	Build func(o Options, table *langcode.Table) transform.Transform
	// OutCodec is the forced output codec, "" keeps the input codec
	OutCodec string
	// Shard is the default shard policy kind
	Shard shard.Kind
	// Bounded rejects an unbounded shard policy
	Bounded bool
	// Compression replaces an "auto" output compression
	Compression compress.Format
	// NeedsTable loads the language table
	NeedsTable bool
}

// Preset names
const (
	UpdateLangCodes    = "update-lang-codes"
	ExtractCleanCorpus = "extract-clean-corpus"
	SplitLatest        = "split-latest"
	Compress           = "compress"
	ExtractText        = "extract-text"
)

var presets = []Preset{
	{
		Name:       UpdateLangCodes,
		Short:      "update language codes to BCP-47 and fix legacy codes",
		Build:      func(_ Options, t *langcode.Table) transform.Transform { return transform.NewLanguageCodeFixer(t) },
		OutCodec:   codec.NameJSONL,
		Shard:      shard.Unbounded,
		NeedsTable: true,
	},
	{
		Name:     ExtractCleanCorpus,
		Short:    "extract the records that pass the clean thresholds",
		Build:    func(o Options, _ *langcode.Table) transform.Transform { return transform.NewCleanFilter(o.Clean) },
		OutCodec: codec.NameJSONL,
		Shard:    shard.Unbounded,
	},
	{
		Name:     SplitLatest,
		Short:    "split a corpus into a set of smaller files",
		Build:    func(Options, *langcode.Table) transform.Transform { return transform.Identity{} },
		OutCodec: codec.NameJSONL,
		Shard:    shard.Bytes,
		Bounded:  true,
	},
	{
		Name:        Compress,
		Short:       "compress files and folders (depth 1)",
		Build:       func(Options, *langcode.Table) transform.Transform { return transform.Identity{} },
		Shard:       shard.Unbounded,
		Compression: compress.Zstd,
	},
	{
		Name:     ExtractText,
		Short:    "extract text and discard metadata (OSCAR v1 layout)",
		Build:    func(Options, *langcode.Table) transform.Transform { return transform.MetadataStripper{} },
		OutCodec: codec.NameText,
		Shard:    shard.Unbounded,
	},
}

// Presets returns the five commands in display order
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// PresetByName finds a preset, case insensitive
func PresetByName(name string) (Preset, error) {
	for _, p := range presets {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return Preset{}, perr.WithField(perr.Configf("unknown command %q", name), "preset")
}
