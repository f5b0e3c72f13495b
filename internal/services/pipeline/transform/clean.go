package transform

import (
	"oscartools/internal/core/normalize"
	"oscartools/internal/core/record"
	perr "oscartools/internal/platform/errors"
)

// CleanPolicy holds the thresholds of CleanFilter
// a zero threshold is disabled; lengths count runes of the normalized content
type CleanPolicy struct {
	MinLength int `yaml:"min_length" flag:"min-length" validate:"min=0"`
	MaxLength int `yaml:"max_length" flag:"max-length" validate:"min=0"`
	MinLines  int `yaml:"min_lines" flag:"min-lines" validate:"min=0"`
	// MinLangProb requires an identification with at least this probability
	MinLangProb float64 `yaml:"min_lang_prob" flag:"min-lang-prob" validate:"min=0,max=1"`
	// MinHarmfulPP drops records whose harmful perplexity is below the bound;
	// low perplexity under a harmful-content model means the text resembles it
	MinHarmfulPP float64 `yaml:"min_harmful_pp" flag:"min-harmful-pp" validate:"min=0"`
	// RejectAnnotations drops records carrying any of these annotations
	RejectAnnotations []string `yaml:"reject_annotations" flag:"reject-annotation"`
	// RejectAnyAnnotation drops every annotated record
	RejectAnyAnnotation bool `yaml:"reject_any_annotation" flag:"reject-any-annotation"`
}

// DefaultCleanPolicy matches the usual "clean" subset: no quality annotation at all
func DefaultCleanPolicy() CleanPolicy {
	return CleanPolicy{RejectAnyAnnotation: true}
}

// Check reports cross field inconsistencies the tags cannot express
func (p CleanPolicy) Check() error {
	if p.MaxLength > 0 && p.MinLength > p.MaxLength {
		return perr.WithField(perr.Configf("min-length %d exceeds max-length %d", p.MinLength, p.MaxLength), "max-length")
	}
	return nil
}

// CleanFilter drops records failing any configured threshold
type CleanFilter struct {
	policy CleanPolicy
	reject map[string]bool
}

// NewCleanFilter copies p
func NewCleanFilter(p CleanPolicy) *CleanFilter {
	f := &CleanFilter{policy: p}
	if len(p.RejectAnnotations) > 0 {
		f.reject = make(map[string]bool, len(p.RejectAnnotations))
		for _, a := range p.RejectAnnotations {
			f.reject[a] = true
		}
	}
	return f
}

// Name implements Transform
func (f *CleanFilter) Name() string { return "clean_filter" }

// Apply implements Transform
func (f *CleanFilter) Apply(r record.Record) Outcome {
	if f.pass(r) {
		return Outcome{Kind: Keep, Record: r}
	}
	return Outcome{Kind: Drop}
}

func (f *CleanFilter) pass(r record.Record) bool {
	p := f.policy

	if p.MinLength > 0 || p.MaxLength > 0 {
		n := normalize.RuneLen(r.Content)
		if p.MinLength > 0 && n < p.MinLength {
			return false
		}
		if p.MaxLength > 0 && n > p.MaxLength {
			return false
		}
	}
	if p.MinLines > 0 && normalize.Lines(r.Content) < p.MinLines {
		return false
	}

	m := r.Metadata
	if p.MinLangProb > 0 {
		if m == nil || m.Identification == nil || m.Identification.Prob < p.MinLangProb {
			return false
		}
	}
	if m == nil {
		return true
	}
	if p.MinHarmfulPP > 0 && m.HarmfulPP != nil && *m.HarmfulPP < p.MinHarmfulPP {
		return false
	}
	if p.RejectAnyAnnotation && len(m.Annotation) > 0 {
		return false
	}
	for _, a := range m.Annotation {
		if f.reject[a] {
			return false
		}
	}
	return true
}
