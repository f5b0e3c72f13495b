// Package domain holds the core data structures of the corpus pipeline
package domain

import (
	"strings"
	"time"

	perr "oscartools/internal/platform/errors"
)

// WorkUnit is one input file processed end to end by one worker
type WorkUnit struct {
	Path   string
	Name   string
	Lang   string
	Stem   string
	// Format names the input compression (none, gzip, zstd, lz4); "" detects it from Name
	Format string
	Size   int64
}

// UnitState is the lifecycle of a WorkUnit
type UnitState int

// States
const (
	StatePending UnitState = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s UnitState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is Completed or Failed
func (s UnitState) Terminal() bool { return s == StateCompleted || s == StateFailed }

// MalformedPolicy decides what a malformed frame does to its unit
type MalformedPolicy string

// Malformed policies
const (
	MalformedAbort MalformedPolicy = "abort"
	MalformedSkip  MalformedPolicy = "skip"
)

// ParseMalformedPolicy parses abort|skip
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch MalformedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case MalformedAbort:
		return MalformedAbort, nil
	case MalformedSkip:
		return MalformedSkip, nil
	}
	return "", perr.WithField(perr.Configf("unknown malformed policy %q", s), "on-malformed")
}

// TransformMode decides what a refused record does to its unit
type TransformMode string

// Transform modes
const (
	ModeStrict  TransformMode = "strict"
	ModeLenient TransformMode = "lenient"
)

// ParseTransformMode parses strict|lenient
func ParseTransformMode(s string) (TransformMode, error) {
	switch TransformMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	}
	return "", perr.WithField(perr.Configf("unknown transform mode %q", s), "mode")
}

// ShardInfo describes one finalized output file
type ShardInfo struct {
	Path    string
	Records int64
	// Bytes is the encoded size before compression
	Bytes int64
	// Written is the size on disk
	Written int64
}

// Counters are the per unit record and byte counts
type Counters struct {
	Read      int64
	Kept      int64
	Modified  int64
	Dropped   int64
	Skipped   int64
	Malformed int64
	// BytesIn is the compressed input consumed
	BytesIn int64
	// BytesDecoded is the decompressed input consumed
	BytesDecoded int64
	// BytesOut is the encoded output before compression
	BytesOut int64
	// BytesWritten is the output on disk
	BytesWritten int64
}

// Add accumulates o into c
func (c *Counters) Add(o Counters) {
	c.Read += o.Read
	c.Kept += o.Kept
	c.Modified += o.Modified
	c.Dropped += o.Dropped
	c.Skipped += o.Skipped
	c.Malformed += o.Malformed
	c.BytesIn += o.BytesIn
	c.BytesDecoded += o.BytesDecoded
	c.BytesOut += o.BytesOut
	c.BytesWritten += o.BytesWritten
}

// Diagnostic records one tolerated or fatal problem of a unit
type Diagnostic struct {
	Kind    perr.ErrorCode
	Offset  int64
	Index   int64
	HasPos  bool
	Message string
}

// DiagnosticOf builds a Diagnostic from a pipeline error
func DiagnosticOf(err error) Diagnostic {
	d := Diagnostic{Kind: perr.CodeOf(err), Message: err.Error()}
	d.Offset, d.Index, d.HasPos = perr.PositionOf(err)
	return d
}

// UnitResult is the terminal report of one WorkUnit
type UnitResult struct {
	Unit  WorkUnit
	State UnitState
	// Err is the failure cause when State is Failed
	Err      error
	Counters Counters
	Shards   []ShardInfo
	// Diagnostics is capped; DiagnosticsDropped counts the overflow
	Diagnostics        []Diagnostic
	DiagnosticsDropped int
	// Resumed is set when the ledger already had the unit completed
	Resumed bool
	Elapsed time.Duration
}

// Kind is the error code of a failed unit, Unknown otherwise
func (r UnitResult) Kind() perr.ErrorCode {
	if r.Err == nil {
		return perr.ErrorCodeUnknown
	}
	return perr.CodeOf(r.Err)
}

// Report aggregates all unit results of a run, in input order
type Report struct {
	JobID string
	Units []UnitResult
}

// Failed returns the failed units
func (r Report) Failed() []UnitResult {
	var out []UnitResult
	for _, u := range r.Units {
		if u.State == StateFailed {
			out = append(out, u)
		}
	}
	return out
}

// OK reports whether every unit completed
func (r Report) OK() bool {
	for _, u := range r.Units {
		if u.State != StateCompleted {
			return false
		}
	}
	return true
}

// Totals sums counters over all units
func (r Report) Totals() (c Counters, shards int) {
	for _, u := range r.Units {
		c.Add(u.Counters)
		shards += len(u.Shards)
	}
	return c, shards
}

// ExitCode maps the report to the process exit status
// cancellation wins over unit failures
func (r Report) ExitCode() int {
	code := perr.ExitOK
	for _, u := range r.Units {
		if u.State == StateCompleted {
			continue
		}
		if perr.IsCode(u.Err, perr.ErrorCodeCancelled) {
			return perr.ExitCancelled
		}
		code = perr.ExitUnitFailure
	}
	return code
}
