package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"oscartools/internal/adapters/corpus/codec"
	"oscartools/internal/adapters/corpus/compress"
	"oscartools/internal/adapters/corpus/shard"
	"oscartools/internal/adapters/corpus/stream"
	"oscartools/internal/core/langcode"
	"oscartools/internal/core/record"
	perr "oscartools/internal/platform/errors"
	"oscartools/internal/platform/logger"
	"oscartools/internal/services/pipeline/domain"
	"oscartools/internal/services/pipeline/guardrails"
	"oscartools/internal/services/pipeline/repo"
	"oscartools/internal/services/pipeline/transform"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func jsonl(t *testing.T, rs ...record.Record) []byte {
	t.Helper()
	var b []byte
	for _, r := range rs {
		var err error
		if b, err = (codec.JSONL{}).Append(b, r); err != nil {
			t.Fatal(err)
		}
	}
	return b
}

func labeled(content, label string) record.Record {
	return record.Record{Content: content, Metadata: &record.Metadata{Identification: &record.Identification{Label: label, Prob: 0.9}}}
}

func writeInput(t *testing.T, dir, name string, f compress.Format, data []byte) domain.WorkUnit {
	t.Helper()
	path := filepath.Join(dir, name)
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := compress.NewWriter(f, fh, compress.LevelDefault)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := fh.Close(); err != nil {
		t.Fatal(err)
	}
	return domain.WorkUnit{Path: path}
}

func readAll(t *testing.T, shards []domain.ShardInfo) []record.Record {
	t.Helper()
	var out []record.Record
	for _, s := range shards {
		fh, err := os.Open(s.Path)
		if err != nil {
			t.Fatal(err)
		}
		st, err := stream.Open(fh, compress.Detect(s.Path), codec.Detect(compress.TrimExt(s.Path, compress.Detect(s.Path))))
		if err != nil {
			t.Fatal(err)
		}
		for {
			r, err := st.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("read %s: %v", s.Path, err)
			}
			out = append(out, r)
		}
		_ = st.Close()
	}
	return out
}

func contents(rs []record.Record) string {
	var xs []string
	for _, r := range rs {
		xs = append(xs, r.Content)
	}
	return strings.Join(xs, ",")
}

func newSvc(cfg Config, tr transform.Transform, deps ...func(*Deps)) *Service {
	d := Deps{Transform: tr, Log: logger.Nop()}
	for _, f := range deps {
		f(&d)
	}
	return New(cfg, d)
}

// three records with a limit of two records' size give shards of 2 and 1
func TestRun_ShardSplit(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	rs := []record.Record{{Content: "r1"}, {Content: "r2"}, {Content: "r3"}}
	u := writeInput(t, in, "en_meta.jsonl.zst", compress.Zstd, jsonl(t, rs...))
	limit := int64(len(jsonl(t, rs[0])) * 2)

	svc := newSvc(Config{OutDir: out, Policy: shard.Policy{Kind: shard.Bytes, Limit: limit}}, transform.Identity{})
	rep, err := svc.Run(context.Background(), []domain.WorkUnit{u})
	if err != nil {
		t.Fatal(err)
	}
	res := rep.Units[0]
	if res.State != domain.StateCompleted || len(res.Shards) != 2 || res.Shards[0].Records != 2 || res.Shards[1].Records != 1 {
		t.Fatalf("result = %+v", res)
	}
	if filepath.Base(res.Shards[0].Path) != "en_meta_part_0001.jsonl.zst" {
		t.Fatalf("shard name = %s", res.Shards[0].Path)
	}
	if diff := cmp.Diff(rs, readAll(t, res.Shards)); diff != "" {
		t.Fatalf("records differ (-want +got):\n%s", diff)
	}
	if res.Counters.Read != 3 || res.Counters.Kept != 3 || res.Counters.BytesIn == 0 || res.Counters.BytesWritten == 0 {
		t.Fatalf("counters = %+v", res.Counters)
	}
	if rep.ExitCode() != perr.ExitOK {
		t.Fatalf("exit = %d", rep.ExitCode())
	}
}

// a min length of 10 over lengths 5, 15, 3, 20 keeps 15 and 20 in order
func TestRun_CleanFilterKeepsOrder(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	var rs []record.Record
	for _, n := range []int{5, 15, 3, 20} {
		rs = append(rs, record.Record{Content: strings.Repeat("a", n)})
	}
	u := writeInput(t, in, "fr.jsonl.gz", compress.Gzip, jsonl(t, rs...))

	svc := newSvc(Config{OutDir: out}, transform.NewCleanFilter(transform.CleanPolicy{MinLength: 10}))
	rep, _ := svc.Run(context.Background(), []domain.WorkUnit{u})
	res := rep.Units[0]
	got := readAll(t, res.Shards)
	if len(got) != 2 || len(got[0].Content) != 15 || len(got[1].Content) != 20 {
		t.Fatalf("kept = %v", contents(got))
	}
	if res.Counters.Dropped != 2 || res.Counters.Kept != 2 {
		t.Fatalf("counters = %+v", res.Counters)
	}
}

func TestRun_LanguageCodes(t *testing.T) {
	tbl, err := langcode.New(map[string]string{"iw": "he"})
	if err != nil {
		t.Fatal(err)
	}
	data := func(t *testing.T) []byte {
		return jsonl(t, labeled("a", "iw"), labeled("b", "iw"), labeled("c", "xx"), labeled("d", "iw"))
	}

	t.Run("strict fails the unit", func(t *testing.T) {
		in, out := t.TempDir(), t.TempDir()
		u := writeInput(t, in, "iw_meta.jsonl", compress.None, data(t))
		svc := newSvc(Config{OutDir: out, Mode: domain.ModeStrict}, transform.NewLanguageCodeFixer(tbl))
		rep, _ := svc.Run(context.Background(), []domain.WorkUnit{u})
		res := rep.Units[0]
		if res.State != domain.StateFailed || res.Kind() != perr.ErrorCodeTransform {
			t.Fatalf("result = %+v", res)
		}
		if _, idx, ok := perr.PositionOf(res.Err); !ok || idx != 2 {
			t.Fatalf("failure position index = %d %v", idx, ok)
		}
		got := readAll(t, res.Shards)
		if len(got) != 2 || got[0].Label() != "he" || got[1].Label() != "he" {
			t.Fatalf("routed before failure = %+v", got)
		}
		if filepath.Base(res.Shards[0].Path) != "he_meta.jsonl" {
			t.Fatalf("output not renamed: %s", res.Shards[0].Path)
		}
		if rep.ExitCode() != perr.ExitUnitFailure {
			t.Fatalf("exit = %d", rep.ExitCode())
		}
	})

	t.Run("lenient skips with a diagnostic", func(t *testing.T) {
		in, out := t.TempDir(), t.TempDir()
		u := writeInput(t, in, "iw_meta.jsonl", compress.None, data(t))
		svc := newSvc(Config{OutDir: out, Mode: domain.ModeLenient}, transform.NewLanguageCodeFixer(tbl))
		rep, _ := svc.Run(context.Background(), []domain.WorkUnit{u})
		res := rep.Units[0]
		if res.State != domain.StateCompleted || res.Counters.Skipped != 1 || res.Counters.Modified != 3 {
			t.Fatalf("result = %+v", res)
		}
		if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != perr.ErrorCodeTransform || !res.Diagnostics[0].HasPos || res.Diagnostics[0].Index != 2 {
			t.Fatalf("diagnostics = %+v", res.Diagnostics)
		}
		if got := contents(readAll(t, res.Shards)); got != "a,b,d" {
			t.Fatalf("records = %s", got)
		}
	})
}

// corruption after N routed records leaves exactly N recoverable and fails the unit
func TestRun_CorruptionKeepsRoutedRecords(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	rs := []record.Record{{Content: "one"}, {Content: "two"}, {Content: "three"}}
	u := writeInput(t, in, "de.jsonl.gz", compress.Gzip, jsonl(t, rs...))
	fh, err := os.OpenFile(u.Path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fh.WriteString("this is not a gzip member")
	_ = fh.Close()

	svc := newSvc(Config{OutDir: out, Policy: shard.Policy{Kind: shard.Records, Limit: 2}}, transform.Identity{})
	rep, _ := svc.Run(context.Background(), []domain.WorkUnit{u})
	res := rep.Units[0]
	if res.State != domain.StateFailed || res.Kind() != perr.ErrorCodeDecompression {
		t.Fatalf("result = %+v", res)
	}
	if got := contents(readAll(t, res.Shards)); got != "one,two,three" {
		t.Fatalf("recovered = %s", got)
	}
	if parts, _ := filepath.Glob(filepath.Join(out, "*"+shard.PartSuffix)); len(parts) != 0 {
		t.Fatalf("part files left: %v", parts)
	}
}

func TestRun_MalformedPolicy(t *testing.T) {
	data := []byte(`{"content":"a"}` + "\n" + `{"content":` + "\n" + `{"content":"c"}` + "\n")

	in := t.TempDir()
	u := writeInput(t, in, "es.jsonl", compress.None, data)

	abort := newSvc(Config{OutDir: t.TempDir(), Malformed: domain.MalformedAbort}, transform.Identity{})
	rep, _ := abort.Run(context.Background(), []domain.WorkUnit{u})
	if res := rep.Units[0]; res.State != domain.StateFailed || res.Kind() != perr.ErrorCodeMalformed || contents(readAll(t, res.Shards)) != "a" {
		t.Fatalf("abort result = %+v", res)
	}

	skip := newSvc(Config{OutDir: t.TempDir(), Malformed: domain.MalformedSkip, MaxDiagnostics: 1}, transform.Identity{})
	rep, _ = skip.Run(context.Background(), []domain.WorkUnit{u})
	res := rep.Units[0]
	if res.State != domain.StateCompleted || res.Counters.Malformed != 1 || contents(readAll(t, res.Shards)) != "a,c" {
		t.Fatalf("skip result = %+v", res)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != perr.ErrorCodeMalformed || res.Diagnostics[0].Offset != int64(len(`{"content":"a"}`+"\n")) {
		t.Fatalf("diagnostics = %+v", res.Diagnostics)
	}
}

func TestRun_DiagnosticsCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("not json\n")
	}
	u := writeInput(t, t.TempDir(), "es.jsonl", compress.None, []byte(b.String()))
	svc := newSvc(Config{OutDir: t.TempDir(), Malformed: domain.MalformedSkip, MaxDiagnostics: 2}, transform.Identity{})
	rep, _ := svc.Run(context.Background(), []domain.WorkUnit{u})
	res := rep.Units[0]
	if len(res.Diagnostics) != 2 || res.DiagnosticsDropped != 3 || len(res.Shards) != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRun_ManyUnitsKeepInputOrder(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	var units []domain.WorkUnit
	for _, lang := range []string{"ar", "bg", "ca", "cs", "da", "el"} {
		units = append(units, writeInput(t, in, lang+".jsonl", compress.None, jsonl(t, labeled("hello "+lang, lang))))
	}
	// one unit fails to open; its siblings still complete
	units = append(units, domain.WorkUnit{Path: filepath.Join(in, "zz.jsonl")})

	svc := newSvc(Config{OutDir: out, Workers: 3, OutFormat: compress.Zstd}, transform.MetadataStripper{},
		func(d *Deps) { d.Lease = guardrails.NewKeyed().Do })
	rep, err := svc.Run(context.Background(), units)
	if err != nil {
		t.Fatal(err)
	}
	for i, res := range rep.Units[:6] {
		if res.Unit.Path != units[i].Path || res.State != domain.StateCompleted {
			t.Fatalf("unit %d = %+v", i, res)
		}
		got := readAll(t, res.Shards)
		if len(got) != 1 || got[0].Metadata != nil || !strings.HasSuffix(res.Shards[0].Path, ".jsonl.zst") {
			t.Fatalf("unit %d output = %+v", i, got)
		}
	}
	if last := rep.Units[6]; last.State != domain.StateFailed || last.Kind() != perr.ErrorCodeIO {
		t.Fatalf("missing input = %+v", last)
	}
	if len(rep.Failed()) != 1 || rep.OK() {
		t.Fatalf("report = %+v", rep)
	}
	tot, shards := rep.Totals()
	if tot.Read != 6 || tot.Modified != 6 || shards != 6 {
		t.Fatalf("totals = %+v shards %d", tot, shards)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	u := writeInput(t, in, "en.jsonl", compress.None, jsonl(t, record.Record{Content: "x"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := newSvc(Config{OutDir: out}, transform.Identity{}).Run(ctx, []domain.WorkUnit{u, u})
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range rep.Units {
		if res.State != domain.StateFailed || res.Kind() != perr.ErrorCodeCancelled {
			t.Fatalf("result = %+v", res)
		}
	}
	if rep.ExitCode() != perr.ExitCancelled {
		t.Fatalf("exit = %d", rep.ExitCode())
	}
	if ents, _ := os.ReadDir(out); len(ents) != 0 {
		t.Fatalf("cancelled run wrote %v", ents)
	}
}

// cancelAfter cancels once n records went through the transform
type cancelAfter struct {
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Name() string { return "cancel_after" }
func (c *cancelAfter) Apply(r record.Record) transform.Outcome {
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return transform.Outcome{Kind: transform.Keep, Record: r}
}

func TestRun_CancelledMidUnitFinalizes(t *testing.T) {
	in := t.TempDir()
	u := writeInput(t, in, "en.jsonl", compress.None, jsonl(t, record.Record{Content: "a"}, record.Record{Content: "b"}, record.Record{Content: "c"}))

	// cancelling inside Apply still routes the record in hand, then stops
	for n, want := range map[int]string{1: "a", 2: "a,b"} {
		out := t.TempDir()
		ctx, cancel := context.WithCancel(context.Background())

		rep, _ := newSvc(Config{OutDir: out}, &cancelAfter{n: n, cancel: cancel}).Run(ctx, []domain.WorkUnit{u})
		cancel()
		res := rep.Units[0]
		if res.State != domain.StateFailed || res.Kind() != perr.ErrorCodeCancelled {
			t.Fatalf("n=%d: result = %+v", n, res)
		}
		if got := contents(readAll(t, res.Shards)); got != want {
			t.Fatalf("n=%d: kept = %q want %q", n, got, want)
		}
		c := res.Counters
		if c.Read != int64(n) || c.Kept+c.Dropped+c.Skipped != c.Read {
			t.Fatalf("n=%d: counters lose records: %+v", n, c)
		}
	}
}

func TestRun_Resume(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	a := writeInput(t, in, "a.jsonl", compress.None, jsonl(t, record.Record{Content: "x"}))
	b := domain.WorkUnit{Path: filepath.Join(in, "b.jsonl")} // missing on the first run

	led := repo.NewMemory()
	cfg := Config{OutDir: out, JobID: "job-1", Resume: true}
	rep, _ := newSvc(cfg, transform.Identity{}, func(d *Deps) { d.Ledger = led }).Run(context.Background(), []domain.WorkUnit{a, b})
	if rep.Units[0].State != domain.StateCompleted || rep.Units[1].State != domain.StateFailed {
		t.Fatalf("first run = %+v", rep.Units)
	}
	if s, _ := led.State("job-1", b.Path); s != domain.StateFailed {
		t.Fatalf("ledger state of b = %v", s)
	}

	writeInput(t, in, "b.jsonl", compress.None, jsonl(t, record.Record{Content: "y"}))
	rep, _ = newSvc(cfg, transform.Identity{}, func(d *Deps) { d.Ledger = led }).Run(context.Background(), []domain.WorkUnit{a, b})
	if !rep.Units[0].Resumed || rep.Units[1].Resumed || !rep.OK() {
		t.Fatalf("second run = %+v", rep.Units)
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	in := t.TempDir()
	fr1 := writeInput(t, in, "fr.jsonl", compress.None, jsonl(t, record.Record{Content: "x"}))
	fr2 := writeInput(t, in, "fr.jsonl.gz", compress.Gzip, jsonl(t, record.Record{Content: "x"}))

	cases := []struct {
		name  string
		cfg   Config
		units []domain.WorkUnit
	}{
		{"two inputs one output", Config{OutDir: t.TempDir(), OutFormat: compress.None}, []domain.WorkUnit{fr1, fr2}},
		{"output overwrites input", Config{OutDir: in}, []domain.WorkUnit{fr1}},
		{"no output dir", Config{}, []domain.WorkUnit{fr1}},
		{"zero shard limit", Config{OutDir: t.TempDir(), Policy: shard.Policy{Kind: shard.Records}}, []domain.WorkUnit{fr1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rep, err := newSvc(c.cfg, transform.Identity{}).Run(context.Background(), c.units)
			if !perr.IsCode(err, perr.ErrorCodeConfiguration) || len(rep.Units) != 0 {
				t.Fatalf("err = %v, units = %d", err, len(rep.Units))
			}
		})
	}

	// the same path twice is serialized, not a collision
	rep, err := newSvc(Config{OutDir: t.TempDir()}, transform.Identity{}, func(d *Deps) { d.Lease = guardrails.NewKeyed().Do }).
		Run(context.Background(), []domain.WorkUnit{fr1, fr1})
	if err != nil || !rep.OK() {
		t.Fatalf("duplicate path run = %v, %+v", err, rep)
	}
}

func TestRun_BoundedOutputNeverOverwritesSiblingInput(t *testing.T) {
	dir := t.TempDir()
	en := writeInput(t, dir, "en.jsonl", compress.None, jsonl(t, record.Record{Content: "A1"}, record.Record{Content: "A2"}))
	sibling := writeInput(t, dir, "en_part_0002.jsonl", compress.None, jsonl(t, record.Record{Content: "SIBLING"}))
	before, err := os.ReadFile(sibling.Path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{OutDir: dir, Workers: 1, Policy: shard.Policy{Kind: shard.Records, Limit: 1}}
	rep, err := newSvc(cfg, transform.Identity{}).Run(context.Background(), []domain.WorkUnit{en, sibling})
	if !perr.IsCode(err, perr.ErrorCodeConfiguration) || len(rep.Units) != 0 {
		t.Fatalf("err = %v, units = %+v", err, rep.Units)
	}
	if e, ok := perr.As(err); !ok || e.Field() != "output" {
		t.Fatalf("field of %v", err)
	}
	after, _ := os.ReadFile(sibling.Path)
	if string(after) != string(before) {
		t.Fatalf("sibling input changed: %s", after)
	}
	if _, err := os.Stat(filepath.Join(dir, "en_part_0001.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written, stat = %v", err)
	}

	// unrelated inputs in the output directory are fine
	other := t.TempDir()
	de := writeInput(t, other, "de.jsonl", compress.None, jsonl(t, record.Record{Content: "x"}, record.Record{Content: "y"}))
	cfg.OutDir = other
	rep, err = newSvc(cfg, transform.Identity{}).Run(context.Background(), []domain.WorkUnit{de})
	if err != nil || !rep.OK() || len(rep.Units[0].Shards) != 2 {
		t.Fatalf("err = %v, report = %+v", err, rep)
	}
}

func TestRun_WorkUnitFormatOverridesName(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	u := writeInput(t, in, "sw.jsonl", compress.Gzip, jsonl(t, record.Record{Content: "habari"}))
	u.Format = "gz"

	rep, err := newSvc(Config{OutDir: out}, transform.Identity{}).Run(context.Background(), []domain.WorkUnit{u})
	if err != nil || !rep.OK() {
		t.Fatalf("err = %v, report = %+v", err, rep)
	}
	res := rep.Units[0]
	if res.Unit.Format != string(compress.Gzip) || filepath.Base(res.Shards[0].Path) != "sw.jsonl.gz" {
		t.Fatalf("result = %+v", res)
	}

	u.Format = "brotli"
	if _, err := newSvc(Config{OutDir: out}, transform.Identity{}).Run(context.Background(), []domain.WorkUnit{u}); !perr.IsCode(err, perr.ErrorCodeConfiguration) {
		t.Fatalf("unknown unit format: %v", err)
	}
}

func TestRun_TextOutput(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	u := writeInput(t, in, "pt_meta.jsonl.zst", compress.Zstd, jsonl(t, labeled("line one\nline two", "pt"), labeled("other", "pt")))
	svc := newSvc(Config{OutDir: out, OutCodec: codec.Text{}, OutFormat: compress.None}, transform.MetadataStripper{})
	rep, _ := svc.Run(context.Background(), []domain.WorkUnit{u})
	res := rep.Units[0]
	if res.State != domain.StateCompleted || filepath.Base(res.Shards[0].Path) != "pt_meta.txt" {
		t.Fatalf("result = %+v", res)
	}
	b, err := os.ReadFile(res.Shards[0].Path)
	if err != nil || string(b) != "line one\nline two\n\nother\n\n" {
		t.Fatalf("text = %q, %v", b, err)
	}
}
