// Package transform holds the per command record transforms
//
// A Transform is pure with respect to its input: a record it changes is
// returned as a modified Clone and the original is never touched.
package transform

import (
	"oscartools/internal/core/record"
)

// Kind is the outcome category of one Apply
type Kind int

// Outcome kinds
const (
	Keep Kind = iota
	KeepModified
	Drop
	Fail
)

func (k Kind) String() string {
	switch k {
	case Keep:
		return "keep"
	case KeepModified:
		return "keep_modified"
	case Drop:
		return "drop"
	case Fail:
		return "fail"
	}
	return "unknown"
}

// Outcome is the result of applying a Transform to one record
type Outcome struct {
	Kind   Kind
	Record record.Record
	// Err is set for Fail
	Err error
}

// Kept reports whether the outcome carries a record to route
func (o Outcome) Kept() bool { return o.Kind == Keep || o.Kind == KeepModified }

// Transform maps one record to an Outcome
type Transform interface {
	Name() string
	Apply(r record.Record) Outcome
}

// StemMapper is implemented by transforms that rename the output file stem
type StemMapper interface {
	MapStem(lang, stem string) string
}

// Identity keeps every record unchanged
type Identity struct{}

// Name implements Transform
func (Identity) Name() string { return "identity" }

// Apply implements Transform
func (Identity) Apply(r record.Record) Outcome { return Outcome{Kind: Keep, Record: r} }

// MetadataStripper keeps only the content; warc headers, metadata and unknown keys are dropped
type MetadataStripper struct{}

// Name implements Transform
func (MetadataStripper) Name() string { return "metadata_stripper" }

// Apply implements Transform
func (MetadataStripper) Apply(r record.Record) Outcome {
	return Outcome{Kind: KeepModified, Record: record.Record{Content: r.Content}}
}
