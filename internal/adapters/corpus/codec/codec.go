// Package codec defines how records are framed and serialized on disk
package codec

import (
	"path/filepath"
	"strings"

	"oscartools/internal/core/record"
	perr "oscartools/internal/platform/errors"
)

// Framing is the unit the stream cuts the byte sequence into
type Framing int

const (
	// FrameLine is one record per newline terminated line
	FrameLine Framing = iota
	// FrameParagraph is one record per block of lines ended by a blank line
	FrameParagraph
)

// Codec decodes one frame into a Record and appends the encoding of a Record
type Codec interface {
	Name() string
	// Ext is the file extension including the dot
	Ext() string
	Framing() Framing
	// Decode parses one frame without its terminator
	Decode(frame []byte) (record.Record, error)
	// Append encodes r including its terminator onto dst
	Append(dst []byte, r record.Record) ([]byte, error)
}

// Names of the built in codecs
const (
	NameJSONL = "jsonl"
	NameText  = "text"
)

// ByName returns a built in codec
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameJSONL, "json", "v2":
		return JSONL{}, nil
	case NameText, "txt", "v1":
		return Text{}, nil
	}
	return nil, perr.WithField(perr.Configf("unknown codec %q", name), "codec")
}

// Detect picks a codec from a file name whose compression extension is already removed
func Detect(name string) Codec {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return Text{}
	default:
		return JSONL{}
	}
}
