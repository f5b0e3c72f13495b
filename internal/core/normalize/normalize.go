// Package normalize provides the deterministic text normalizer used to decide
// whether a record body carries any text at all
// Pipeline order
// 1 Sanitize controls and drop invalid UTF-8
// 2 Unicode NFC normalization
// 3 Remove format chars (ZWSP, ZWJ, BOM)
// 4 Collapse whitespace runs; runs containing a newline become one newline; trim
//
// Normalization never rewrites stored content. Records are written verbatim and
// the normalized form only feeds the blank check and the length counters.
package normalize

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// pool of fresh transformer chains
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFC,
			runes.Remove(runes.In(unicode.Cf)), // strip format chars ZWJ ZWNJ FEFF etc
		)
	},
}

// Text returns the normalized form of s following the pipeline described above
func Text(s string) string {
	if s == "" {
		return ""
	}

	s = Sanitize(s)

	tr := chainPool.Get().(transform.Transformer)
	ns, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		// the chain cannot fail on valid UTF-8; fall back to the sanitized input
		ns = s
	}

	return collapseSpaces(ns)
}

// Blank reports whether s normalizes to the empty string
func Blank(s string) bool {
	// fast path: any visible ASCII byte means not blank
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c > 0x20 && c < 0x7F {
			return false
		}
	}
	return Text(s) == ""
}

// RuneLen counts runes of the normalized text
func RuneLen(s string) int { return utf8.RuneCountInString(Text(s)) }

// Lines counts non-empty lines of the normalized text
func Lines(s string) int {
	t := Text(s)
	if t == "" {
		return 0
	}
	return strings.Count(t, "\n") + 1
}

// collapseSpaces converts whitespace runs to a single ASCII space, but preserves line breaks.
// Runs that contain any newline are collapsed to a single newline. Leading/trailing spaces/newlines are trimmed
func collapseSpaces(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inWS := false
	sawNL := false
	flush := func() {
		if !inWS {
			return
		}
		if sawNL {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
		inWS = false
		sawNL = false
	}
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWS = true
			if r == '\n' || r == '\r' {
				sawNL = true
			}
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return strings.Trim(b.String(), " \n\t\r")
}
