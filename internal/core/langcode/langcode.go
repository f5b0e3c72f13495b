// Package langcode holds the immutable legacy code -> BCP-47 table
//
// Every target tag is checked with x/text/language when the table is built,
// so a Table can only ever emit syntactically valid, registered tags. Codes
// that are already current map to themselves; a code missing from the table
// is unknown and callers must treat it as an error.
package langcode

import (
	"os"
	"sort"
	"strings"
	"sync"

	perr "oscartools/internal/platform/errors"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Table maps a declared language code to its BCP-47 tag
// it is read only after construction and safe to share across goroutines
type Table struct {
	m map[string]string
}

// New validates every entry and builds a Table
func New(entries map[string]string) (*Table, error) {
	if len(entries) == 0 {
		return nil, perr.Configf("langcode: empty table")
	}
	m := make(map[string]string, len(entries))
	for k, v := range entries {
		key := strings.ToLower(strings.TrimSpace(k))
		target := strings.TrimSpace(v)
		if key == "" {
			return nil, perr.WithField(perr.Configf("langcode: empty source code"), "mappings")
		}
		if _, err := language.Parse(target); err != nil {
			return nil, perr.WithField(perr.Wrapf(err, perr.ErrorCodeConfiguration, "langcode: %q maps to invalid tag %q", k, v), "mappings")
		}
		if prev, dup := m[key]; dup && prev != target {
			return nil, perr.WithField(perr.Configf("langcode: %q mapped twice (%q, %q)", key, prev, target), "mappings")
		}
		m[key] = target
	}
	return &Table{m: m}, nil
}

// Lookup returns the BCP-47 tag for code; ok is false when code is unknown
func (t *Table) Lookup(code string) (string, bool) {
	if t == nil {
		return "", false
	}
	tag, ok := t.m[strings.ToLower(code)]
	return tag, ok
}

// Len is the number of known source codes
func (t *Table) Len() int { return len(t.m) }

// Codes returns the known source codes sorted
func (t *Table) Codes() []string {
	out := make([]string, 0, len(t.m))
	for k := range t.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Merge returns a new table with other's entries layered over t
func (t *Table) Merge(other map[string]string) (*Table, error) {
	all := make(map[string]string, len(t.m)+len(other))
	for k, v := range t.m {
		all[k] = v
	}
	for k, v := range other {
		all[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return New(all)
}

// File is the on-disk yaml layout of a table
//
//	extends_default: true
//	mappings:
//	  iw: he
//	  xx-legacy: und
type File struct {
	ExtendsDefault bool              `yaml:"extends_default"`
	Mappings       map[string]string `yaml:"mappings"`
}

// Parse builds a table from yaml bytes
func Parse(data []byte) (*Table, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeConfiguration, "langcode: invalid yaml")
	}
	if f.ExtendsDefault {
		return Default().Merge(f.Mappings)
	}
	return New(f.Mappings)
}

// Load reads a yaml table from path
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.WithField(perr.Wrapf(err, perr.ErrorCodeConfiguration, "langcode: read %s", path), "lang-table")
	}
	return Parse(data)
}

var defaultTable = sync.OnceValue(func() *Table {
	entries := make(map[string]string, len(current)+len(legacy))
	for _, c := range current {
		entries[c] = c
	}
	for k, v := range legacy {
		entries[k] = v
	}
	t, err := New(entries)
	if err != nil {
		panic(err)
	}
	return t
})

// Default returns the built in table shared by every caller
func Default() *Table { return defaultTable() }
