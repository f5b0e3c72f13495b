package transform

import (
	"strings"

	"oscartools/internal/core/langcode"
	"oscartools/internal/core/record"
	perr "oscartools/internal/platform/errors"
)

// LanguageCodeFixer rewrites declared language labels to their BCP-47 tags
// unknown labels fail the record
type LanguageCodeFixer struct {
	table *langcode.Table
}

// NewLanguageCodeFixer shares table by reference; table must not be nil
func NewLanguageCodeFixer(table *langcode.Table) *LanguageCodeFixer {
	if table == nil {
		panic("transform: LanguageCodeFixer requires a table")
	}
	return &LanguageCodeFixer{table: table}
}

// Name implements Transform
func (f *LanguageCodeFixer) Name() string { return "language_code_fixer" }

// Apply implements Transform
// the document label and every sentence label are rewritten; a record with no
// declared label is kept as is
func (f *LanguageCodeFixer) Apply(r record.Record) Outcome {
	if r.Metadata == nil {
		return Outcome{Kind: Keep, Record: r}
	}

	var out record.Record
	cloned := false
	mutable := func() *record.Metadata {
		if !cloned {
			out = r.Clone()
			cloned = true
		}
		return out.Metadata
	}

	if id := r.Metadata.Identification; id != nil && id.Label != "" {
		tag, ok := f.table.Lookup(id.Label)
		if !ok {
			return unmapped(id.Label, "metadata.identification.label")
		}
		if tag != id.Label {
			mutable().Identification.Label = tag
		}
	}
	for i, id := range r.Metadata.SentenceIdentifications {
		if id == nil || id.Label == "" {
			continue
		}
		tag, ok := f.table.Lookup(id.Label)
		if !ok {
			return unmapped(id.Label, "metadata.sentence_identifications")
		}
		if tag != id.Label {
			mutable().SentenceIdentifications[i].Label = tag
		}
	}

	if !cloned {
		return Outcome{Kind: Keep, Record: r}
	}
	return Outcome{Kind: KeepModified, Record: out}
}

// MapStem replaces the language prefix of an output stem (iw_meta -> he_meta)
// a prefix the table does not know is kept
func (f *LanguageCodeFixer) MapStem(lang, stem string) string {
	tag, ok := f.table.Lookup(lang)
	if !ok || tag == lang || !strings.HasPrefix(stem, lang) {
		return stem
	}
	return tag + strings.TrimPrefix(stem, lang)
}

func unmapped(label, field string) Outcome {
	return Outcome{
		Kind: Fail,
		Err:  perr.WithField(perr.Transformf("unmapped language code %q", label), field),
	}
}
