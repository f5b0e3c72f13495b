package module

import (
	"path/filepath"
	"strings"

	"oscartools/internal/adapters/corpus/codec"
	"oscartools/internal/adapters/corpus/compress"
	"oscartools/internal/adapters/corpus/shard"
	"oscartools/internal/core/langcode"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/platform/validate"
	"oscartools/internal/services/pipeline/domain"
	"oscartools/internal/services/pipeline/service"
	"oscartools/internal/services/pipeline/transform"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultShardSize applies to a byte policy given without a limit
const DefaultShardSize = "500MB"

var jobNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("oscar-tools.pipeline.job"))

// Resolved is a validated run: the preset, its transform and the orchestrator config
type Resolved struct {
	Preset    Preset
	Transform transform.Transform
	Service   service.Config
	JobID     string
}

// Validate reports the first configuration problem of o
func Validate(o Options) error {
	_, err := Resolve(o)
	return err
}

// Resolve validates o and turns it into an orchestrator config
// every failure is a configuration error naming the offending flag
func Resolve(o Options) (Resolved, error) {
	var r Resolved
	if err := validate.Struct(o); err != nil {
		return r, err
	}
	p, err := PresetByName(o.Preset)
	if err != nil {
		return r, err
	}
	r.Preset = p

	malformed, err := domain.ParseMalformedPolicy(o.OnMalformed)
	if err != nil {
		return r, err
	}
	mode, err := domain.ParseTransformMode(o.Mode)
	if err != nil {
		return r, err
	}

	var maxFrame uint64
	if s := strings.TrimSpace(o.MaxFrame); s != "" {
		if maxFrame, err = humanize.ParseBytes(s); err != nil || maxFrame == 0 {
			return r, perr.WithField(perr.Configf("invalid frame size %q", s), "max-frame")
		}
	}

	kind, limit := o.ShardPolicy, o.ShardLimit
	if kind == "" {
		kind = string(p.Shard)
	}
	if kind == string(shard.Bytes) && strings.TrimSpace(limit) == "" {
		limit = DefaultShardSize
	}
	policy, err := shard.ParsePolicy(kind, limit)
	if err != nil {
		return r, err
	}
	if p.Bounded && !policy.Bounded() {
		return r, perr.WithField(perr.Configf("%s needs a bytes or records shard policy", p.Name), "shard-policy")
	}

	format, err := compress.ParseFormat(o.Compression)
	if err != nil {
		return r, err
	}
	if format == compress.Auto && p.Compression != "" {
		format = p.Compression
	}
	level, err := compress.ParseLevel(o.Level)
	if err != nil {
		return r, err
	}

	var in, out codec.Codec
	if o.InputCodec != "" {
		if in, err = codec.ByName(o.InputCodec); err != nil {
			return r, err
		}
	}
	if p.OutCodec != "" {
		if out, err = codec.ByName(p.OutCodec); err != nil {
			return r, err
		}
	}

	if err := o.Clean.Check(); err != nil {
		return r, err
	}
	var table *langcode.Table
	if p.NeedsTable {
		table = langcode.Default()
		if o.LangTable != "" {
			if table, err = langcode.Load(o.LangTable); err != nil {
				return r, err
			}
		}
	}
	if o.Resume && o.Ledger == "" {
		return r, perr.WithField(perr.Configf("resume needs a ledger file"), "resume")
	}

	outDir, err := filepath.Abs(o.Output)
	if err != nil {
		return r, perr.WithField(perr.Wrap(err, perr.ErrorCodeConfiguration, "output path"), "output")
	}

	r.Transform = p.Build(o, table)
	r.Service = service.Config{
		Workers:        o.Workers,
		Malformed:      malformed,
		Mode:           mode,
		MaxDiagnostics: o.MaxDiagnostics,
		MaxFrame:       int(maxFrame),
		OutDir:         outDir,
		InCodec:        in,
		OutCodec:       out,
		OutFormat:      format,
		Level:          level,
		Policy:         policy,
		Resume:         o.Resume,
	}
	r.JobID = JobID(o, r)
	r.Service.JobID = r.JobID
	return r, nil
}

// jobKey lists what changes the output of a run
type jobKey struct {
	Preset      string                 `yaml:"preset"`
	Input       string                 `yaml:"input"`
	Output      string                 `yaml:"output"`
	Policy      string                 `yaml:"policy"`
	Compression string                 `yaml:"compression"`
	Level       string                 `yaml:"level"`
	InputCodec  string                 `yaml:"input_codec,omitempty"`
	Malformed   string                 `yaml:"malformed"`
	Mode        string                 `yaml:"mode"`
	MaxFrame    int                    `yaml:"max_frame"`
	LangTable   string                 `yaml:"lang_table,omitempty"`
	Clean       *transform.CleanPolicy `yaml:"clean,omitempty"`
}

// JobID is a name based uuid over the preset and the options that shape the
// output, so rerunning the same command finds its ledger rows again
func JobID(o Options, r Resolved) string {
	in, _ := filepath.Abs(o.Input)
	k := jobKey{
		Preset:      r.Preset.Name,
		Input:       in,
		Output:      r.Service.OutDir,
		Policy:      r.Service.Policy.String(),
		Compression: string(r.Service.OutFormat),
		Level:       strings.ToLower(o.Level),
		InputCodec:  o.InputCodec,
		Malformed:   string(r.Service.Malformed),
		Mode:        string(r.Service.Mode),
		MaxFrame:    r.Service.MaxFrame,
	}
	if r.Preset.NeedsTable {
		k.LangTable = o.LangTable
	}
	if r.Preset.Name == ExtractCleanCorpus {
		c := o.Clean
		k.Clean = &c
	}
	b, err := yaml.Marshal(k)
	if err != nil {
		// plain strings and numbers always marshal
		panic(err)
	}
	return uuid.NewSHA1(jobNamespace, b).String()
}
