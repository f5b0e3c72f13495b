// Package locator enumerates the input files of a corpus root
package locator

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"oscartools/internal/adapters/corpus/compress"
	perr "oscartools/internal/platform/errors"
)

// PartSuffix marks shard files still being written
const PartSuffix = ".part"

// Entry is one candidate input file
type Entry struct {
	Path string
	// Name is the base name
	Name string
	// Lang is the language prefix of the file stem ("iw" for iw_meta.jsonl.zst)
	Lang string
	// Format is the compression detected from the extension
	Format compress.Format
	Size   int64
}

// Stem is Name without compression and codec extensions
func (e Entry) Stem() string { return Stem(e.Name) }

// Locate returns the files of root sorted by name
// root may be one file or a directory whose depth 1 regular files are read;
// hidden files, .part files and subdirectories are ignored
func Locate(root string) ([]Entry, error) {
	fi, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, perr.WithField(perr.Configf("input %s does not exist", root), "input")
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "stat %s", root)
	}
	if fi.Mode().IsRegular() {
		return []Entry{entry(root, fi)}, nil
	}
	if !fi.IsDir() {
		return nil, perr.WithField(perr.Configf("input %s is not a file or directory", root), "input")
	}

	des, err := os.ReadDir(root)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "read dir %s", root)
	}
	var out []Entry
	for _, de := range des {
		name := de.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, PartSuffix) {
			continue
		}
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// vanished between ReadDir and Info
			continue
		}
		out = append(out, entry(filepath.Join(root, name), info))
	}
	if len(out) == 0 {
		return nil, perr.WithField(perr.Configf("input %s holds no corpus files", root), "input")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func entry(path string, fi os.FileInfo) Entry {
	name := filepath.Base(path)
	return Entry{
		Path:   path,
		Name:   name,
		Lang:   Lang(name),
		Format: compress.Detect(name),
		Size:   fi.Size(),
	}
}

// Stem strips a compression extension then a codec extension
func Stem(name string) string {
	name = compress.TrimExt(name, compress.Detect(name))
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".json", ".txt":
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}

// Lang is the stem up to the first underscore
func Lang(name string) string {
	stem := Stem(name)
	if i := strings.IndexByte(stem, '_'); i > 0 {
		return stem[:i]
	}
	return stem
}
