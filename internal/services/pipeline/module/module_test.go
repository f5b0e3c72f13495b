package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"oscartools/internal/adapters/corpus/codec"
	"oscartools/internal/adapters/corpus/compress"
	"oscartools/internal/adapters/corpus/shard"
	"oscartools/internal/core/record"
	"oscartools/internal/modkit"
	"oscartools/internal/platform/config"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/platform/logger"
	"oscartools/internal/platform/store"
	"oscartools/internal/platform/testkit"
	"oscartools/internal/services/pipeline/domain"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func opts(preset, in, out string) Options {
	o := FromConfig(config.New())
	o.Preset, o.Input, o.Output = preset, in, out
	return o
}

func writeJSONL(t *testing.T, path string, rs ...record.Record) {
	t.Helper()
	var b []byte
	for _, r := range rs {
		var err error
		if b, err = (codec.JSONL{}).Append(b, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func labeled(content, label string) record.Record {
	return record.Record{Content: content, Metadata: &record.Metadata{Identification: &record.Identification{Label: label, Prob: 0.9}}}
}

func TestFromConfig_Env(t *testing.T) {
	t.Setenv("OSCAR_PIPELINE_WORKERS", "7")
	t.Setenv("OSCAR_PIPELINE_MODE", "lenient")
	t.Setenv("OSCAR_PIPELINE_CLEAN_MIN_LENGTH", "12")
	t.Setenv("OSCAR_LEDGER_RESUME", "true")

	o := FromConfig(config.New())
	if o.Workers != 7 || o.Mode != "lenient" || o.Clean.MinLength != 12 || !o.Resume {
		t.Fatalf("env not applied: %+v", o)
	}
	if o.OnMalformed != "abort" || o.Compression != "auto" || o.MaxFrame != "32MiB" {
		t.Fatalf("defaults lost: %+v", o)
	}
}

func TestPresetByName(t *testing.T) {
	names := make([]string, 0, len(Presets()))
	for _, p := range Presets() {
		names = append(names, p.Name)
	}
	want := []string{UpdateLangCodes, ExtractCleanCorpus, SplitLatest, Compress, ExtractText}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("presets (-want +got):\n%s", diff)
	}

	p, err := PresetByName("Split-Latest")
	if err != nil || p.Name != SplitLatest {
		t.Fatalf("lookup: %v %+v", err, p)
	}
	_, err = PresetByName("dedup")
	if perr.CodeOf(err) != perr.ErrorCodeConfiguration || fieldOf(err) != "preset" {
		t.Fatalf("want preset config error, got %v", err)
	}
}

func TestResolve_PresetDefaults(t *testing.T) {
	dir := t.TempDir()

	r, err := Resolve(opts(SplitLatest, dir, dir))
	if err != nil {
		t.Fatal(err)
	}
	if r.Service.Policy.Kind != shard.Bytes || r.Service.Policy.Limit != 500_000_000 {
		t.Fatalf("split-latest policy: %+v", r.Service.Policy)
	}
	if r.Service.OutCodec == nil || r.Service.OutCodec.Name() != codec.NameJSONL {
		t.Fatalf("split-latest codec: %v", r.Service.OutCodec)
	}

	r, err = Resolve(opts(Compress, dir, dir))
	if err != nil {
		t.Fatal(err)
	}
	if r.Service.OutFormat != compress.Zstd || r.Service.OutCodec != nil || r.Service.Policy.Bounded() {
		t.Fatalf("compress: %+v", r.Service)
	}

	o := opts(Compress, dir, dir)
	o.Compression = "gzip"
	if r, err = Resolve(o); err != nil || r.Service.OutFormat != compress.Gzip {
		t.Fatalf("explicit compression: %v %v", err, r.Service.OutFormat)
	}

	r, err = Resolve(opts(ExtractText, dir, dir))
	if err != nil || r.Service.OutCodec.Name() != codec.NameText {
		t.Fatalf("extract-text: %v", err)
	}
	if r.Service.MaxFrame != 32<<20 || r.Service.Workers != 4 {
		t.Fatalf("limits: %+v", r.Service)
	}
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name  string
		edit  func(*Options)
		field string
	}{
		{"missing input", func(o *Options) { o.Input = "" }, "input"},
		{"zero workers", func(o *Options) { o.Workers = 0 }, "workers"},
		{"bad mode", func(o *Options) { o.Mode = "loose" }, "mode"},
		{"bad compression", func(o *Options) { o.Compression = "brotli" }, "compression"},
		{"bad frame", func(o *Options) { o.MaxFrame = "lots" }, "max-frame"},
		{"unknown preset", func(o *Options) { o.Preset = "dedup" }, "preset"},
		{"unbounded split", func(o *Options) { o.Preset = SplitLatest; o.ShardPolicy = "unbounded" }, "shard-policy"},
		{"records without limit", func(o *Options) { o.ShardPolicy = "records" }, "shard-limit"},
		{"clean bounds", func(o *Options) { o.Clean.MinLength, o.Clean.MaxLength = 10, 5 }, "max-length"},
		{"resume without ledger", func(o *Options) { o.Resume = true }, "resume"},
		{"missing lang table", func(o *Options) { o.Preset = UpdateLangCodes; o.LangTable = filepath.Join(dir, "nope.yaml") }, "lang-table"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := opts(ExtractCleanCorpus, dir, dir)
			tc.edit(&o)
			err := Validate(o)
			if perr.CodeOf(err) != perr.ErrorCodeConfiguration {
				t.Fatalf("want configuration error, got %v", err)
			}
			if got := fieldOf(err); got != tc.field {
				t.Fatalf("field: got %q want %q (%v)", got, tc.field, err)
			}
			if perr.ExitCode(err) != perr.ExitConfig {
				t.Fatalf("exit code %d", perr.ExitCode(err))
			}
		})
	}
}

func TestJobID_Deterministic(t *testing.T) {
	dir := t.TempDir()
	a, err := Resolve(opts(ExtractCleanCorpus, dir, dir))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Resolve(opts(ExtractCleanCorpus, dir, dir))
	if a.JobID == "" || a.JobID != b.JobID || a.Service.JobID != a.JobID {
		t.Fatalf("same options gave %q and %q", a.JobID, b.JobID)
	}

	o := opts(ExtractCleanCorpus, dir, dir)
	o.Clean.MinLength = 100
	c, _ := Resolve(o)
	if c.JobID == a.JobID {
		t.Fatal("clean thresholds must change the job id")
	}

	// frames over the cap become malformed, so the cap changes the output
	o = opts(ExtractCleanCorpus, dir, dir)
	o.MaxFrame = "1MiB"
	e, _ := Resolve(o)
	if e.JobID == a.JobID {
		t.Fatal("max frame must change the job id")
	}

	// workers do not change what is written
	o = opts(ExtractCleanCorpus, dir, dir)
	o.Workers = 9
	d, _ := Resolve(o)
	if d.JobID != a.JobID {
		t.Fatal("workers changed the job id")
	}
}

func TestUnitsOf(t *testing.T) {
	dir := t.TempDir()
	writeJSONL(t, filepath.Join(dir, "fr_meta.jsonl"), labeled("bonjour", "fr"))
	writeJSONL(t, filepath.Join(dir, "de_meta.jsonl"), labeled("hallo", "de"))

	units, err := UnitsOf(dir)
	if err != nil {
		t.Fatal(err)
	}
	got := make([][3]string, len(units))
	for i, u := range units {
		got[i] = [3]string{u.Name, u.Lang, u.Stem}
	}
	want := [][3]string{{"de_meta.jsonl", "de", "de_meta"}, {"fr_meta.jsonl", "fr", "fr_meta"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("units (-want +got):\n%s", diff)
	}

	if _, err := UnitsOf(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("want error for a missing input")
	}
}

func TestModule_RunInMemory(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeJSONL(t, filepath.Join(in, "iw_meta.jsonl"), labeled("shalom", "iw"), labeled("olam", "iw"))

	m, err := New(context.Background(), modkit.Deps{Log: logger.Nop()}, opts(UpdateLangCodes, in, out))
	if err != nil {
		t.Fatal(err)
	}
	if m.Name() != UpdateLangCodes {
		t.Fatalf("name %q", m.Name())
	}
	if _, ok := modkit.PortsOf[Ports](m); !ok {
		t.Fatal("ports not exposed")
	}

	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.OK() || rep.JobID != m.JobID() || len(rep.Units) != 1 {
		t.Fatalf("report: %+v", rep)
	}
	u := rep.Units[0]
	if u.Counters.Read != 2 || u.Counters.Modified != 2 {
		t.Fatalf("counters: %+v", u.Counters)
	}
	if len(u.Shards) != 1 || filepath.Base(u.Shards[0].Path) != "he_meta.jsonl" {
		t.Fatalf("shards: %+v", u.Shards)
	}
}

func TestModule_LedgerResume(t *testing.T) {
	ctx := context.Background()
	in, out := t.TempDir(), t.TempDir()
	writeJSONL(t, filepath.Join(in, "fr_meta.jsonl"), labeled("bonjour tout le monde", "fr"))

	s, err := store.Open(ctx, store.Config{SQLite: store.SQLiteConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "ledger.db")}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close(ctx) })

	o := opts(ExtractCleanCorpus, in, out)
	o.Ledger = "ledger.db"
	o.Resume = true

	run := func() domain.Report {
		t.Helper()
		m, err := New(ctx, modkit.Deps{Log: logger.Nop(), DB: s.SQL}, o)
		if err != nil {
			t.Fatal(err)
		}
		rep, err := m.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return rep
	}

	first := run()
	if !first.OK() || first.Units[0].Resumed {
		t.Fatalf("first run: %+v", first)
	}
	second := run()
	if !second.OK() || !second.Units[0].Resumed {
		t.Fatalf("second run should resume: %+v", second)
	}
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	o := opts(SplitLatest, "", t.TempDir())
	_, err := New(context.Background(), modkit.Deps{}, o)
	testkit.MustContain(t, err.Error(), "input")
	if perr.CodeOf(err) != perr.ErrorCodeConfiguration {
		t.Fatalf("want configuration error, got %v", err)
	}
}

func fieldOf(err error) string {
	if e, ok := perr.As(err); ok {
		return e.Field()
	}
	return ""
}
