package domain

import (
	"context"
	"testing"

	perr "oscartools/internal/platform/errors"
)

func TestReport_ExitCodeAndTotals(t *testing.T) {
	ok := UnitResult{State: StateCompleted, Counters: Counters{Read: 3, Kept: 2}, Shards: []ShardInfo{{}, {}}}
	bad := UnitResult{State: StateFailed, Err: perr.Malformedf("x"), Counters: Counters{Read: 1}}
	cancelled := UnitResult{State: StateFailed, Err: perr.Cancelled(context.Canceled)}

	cases := []struct {
		name  string
		units []UnitResult
		want  int
	}{
		{"empty", nil, perr.ExitOK},
		{"all ok", []UnitResult{ok, ok}, perr.ExitOK},
		{"one failed", []UnitResult{ok, bad}, perr.ExitUnitFailure},
		{"cancelled wins", []UnitResult{bad, cancelled}, perr.ExitCancelled},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := (Report{Units: c.units}).ExitCode(); got != c.want {
				t.Fatalf("ExitCode = %d, want %d", got, c.want)
			}
		})
	}

	r := Report{Units: []UnitResult{ok, bad}}
	tot, shards := r.Totals()
	if tot.Read != 4 || tot.Kept != 2 || shards != 2 {
		t.Fatalf("Totals = %+v, %d", tot, shards)
	}
	if r.OK() || len(r.Failed()) != 1 {
		t.Fatalf("OK/Failed mismatch")
	}
	if bad.Kind() != perr.ErrorCodeMalformed || ok.Kind() != perr.ErrorCodeUnknown {
		t.Fatalf("Kind mismatch")
	}
}

func TestParsePolicies(t *testing.T) {
	if p, err := ParseMalformedPolicy(" Skip "); err != nil || p != MalformedSkip {
		t.Fatalf("ParseMalformedPolicy = %q, %v", p, err)
	}
	if _, err := ParseMalformedPolicy("ignore"); !perr.IsCode(err, perr.ErrorCodeConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
	if m, err := ParseTransformMode("lenient"); err != nil || m != ModeLenient {
		t.Fatalf("ParseTransformMode = %q, %v", m, err)
	}
	if _, err := ParseTransformMode("loose"); !perr.IsCode(err, perr.ErrorCodeConfiguration) {
		t.Fatalf("want configuration error, got %v", err)
	}
}

func TestDiagnosticOf(t *testing.T) {
	d := DiagnosticOf(perr.WithPosition(perr.Malformedf("bad"), 10, 2))
	if d.Kind != perr.ErrorCodeMalformed || !d.HasPos || d.Offset != 10 || d.Index != 2 || d.Message != "bad" {
		t.Fatalf("Diagnostic = %+v", d)
	}
	if StateCompleted.String() != "completed" || !StateFailed.Terminal() || StateRunning.Terminal() {
		t.Fatalf("state helpers mismatch")
	}
}
