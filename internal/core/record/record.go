// Package record defines the in-memory corpus document
//
// A Record mirrors one OSCAR v2 line: content, warc headers and a metadata
// object. Known keys are typed; every other key, at the top level or inside
// metadata, is carried in Extra so that a decode/encode cycle loses nothing.
package record

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"sort"
)

// Identification is a declared language label with its confidence
type Identification struct {
	Label string  `json:"label"`
	Prob  float64 `json:"prob"`
}

// Metadata holds quality and language signals of a record
type Metadata struct {
	Identification          *Identification   `json:"identification"`
	Annotation              []string          `json:"annotation"`
	SentenceIdentifications []*Identification `json:"sentence_identifications"`
	HarmfulPP               *float64          `json:"harmful_pp,omitempty"`
	Categories              []string          `json:"categories,omitempty"`

	// Extra keeps unknown keys verbatim
	Extra map[string]json.RawMessage `json:"-"`
}

// Record is one corpus entry
type Record struct {
	Content     string            `json:"content"`
	WARCHeaders map[string]string `json:"warc_headers"`
	Metadata    *Metadata         `json:"metadata"`

	// Extra keeps unknown top level keys verbatim
	Extra map[string]json.RawMessage `json:"-"`
}

// Label returns the declared document language, "" when absent
func (r Record) Label() string {
	if r.Metadata == nil || r.Metadata.Identification == nil {
		return ""
	}
	return r.Metadata.Identification.Label
}

// HasAnnotation reports whether any of names is among the record's annotations
func (r Record) HasAnnotation(names ...string) bool {
	if r.Metadata == nil {
		return false
	}
	for _, a := range r.Metadata.Annotation {
		if slices.Contains(names, a) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a transform can modify it without aliasing
func (r Record) Clone() Record {
	out := Record{Content: r.Content}
	if r.WARCHeaders != nil {
		out.WARCHeaders = maps.Clone(r.WARCHeaders)
	}
	if r.Metadata != nil {
		out.Metadata = r.Metadata.Clone()
	}
	out.Extra = cloneExtra(r.Extra)
	return out
}

// Clone returns a deep copy of m
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := &Metadata{
		Identification: m.Identification.clone(),
		Annotation:     slices.Clone(m.Annotation),
		Categories:     slices.Clone(m.Categories),
	}
	if m.SentenceIdentifications != nil {
		c.SentenceIdentifications = make([]*Identification, len(m.SentenceIdentifications))
		for i, id := range m.SentenceIdentifications {
			c.SentenceIdentifications[i] = id.clone()
		}
	}
	if m.HarmfulPP != nil {
		v := *m.HarmfulPP
		c.HarmfulPP = &v
	}
	c.Extra = cloneExtra(m.Extra)
	return c
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	c := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		c[k] = bytes.Clone(v)
	}
	return c
}

func (id *Identification) clone() *Identification {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// known keys handled by the typed fields
var (
	knownMetadata = map[string]bool{
		"identification":           true,
		"annotation":               true,
		"sentence_identifications": true,
		"harmful_pp":               true,
		"categories":               true,
	}
	knownRecord = map[string]bool{
		"content":      true,
		"warc_headers": true,
		"metadata":     true,
	}
)

// metadataFields and recordFields are aliases without methods so the typed
// keys go through the default codec
type (
	metadataFields Metadata
	recordFields   Record
)

// MarshalJSON writes typed keys first then Extra keys sorted by name
func (m Metadata) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(metadataFields(m))
	if err != nil {
		return nil, err
	}
	return appendExtra(base, m.Extra, knownMetadata)
}

// UnmarshalJSON fills typed keys and keeps the rest in Extra
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var f metadataFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	extra, err := unknownKeys(b, knownMetadata)
	if err != nil {
		return err
	}
	f.Extra = extra
	*m = Metadata(f)
	return nil
}

// MarshalJSON writes content, warc_headers and metadata then Extra keys sorted by name
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// corpus text is not html
	enc.SetEscapeHTML(false)
	if err := enc.Encode(recordFields(r)); err != nil {
		return nil, err
	}
	return appendExtra(bytes.TrimRight(buf.Bytes(), "\n"), r.Extra, knownRecord)
}

// UnmarshalJSON fills typed keys and keeps the rest in Extra
func (r *Record) UnmarshalJSON(b []byte) error {
	var f recordFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	extra, err := unknownKeys(b, knownRecord)
	if err != nil {
		return err
	}
	f.Extra = extra
	*r = Record(f)
	return nil
}

// appendExtra splices the non typed keys of extra into the object base
func appendExtra(base []byte, extra map[string]json.RawMessage, known map[string]bool) ([]byte, error) {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !known[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return base, nil
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Grow(len(base) + 64)
	buf.Write(base[:len(base)-1]) // drop closing brace
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		if err := json.Compact(&buf, extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// unknownKeys returns the keys of the object b that known does not name, nil when none
func unknownKeys(b []byte, known map[string]bool) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	var extra map[string]json.RawMessage
	for k, v := range all {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return extra, nil
}
