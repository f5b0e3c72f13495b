package codec

import (
	"bytes"
	"strings"

	"oscartools/internal/core/normalize"
	"oscartools/internal/core/record"
	perr "oscartools/internal/platform/errors"
)

// Text is the OSCAR v1 layout: document lines followed by one blank line
// it carries no metadata so a decode yields content only
type Text struct{}

// Name implements Codec
func (Text) Name() string { return NameText }

// Ext implements Codec
func (Text) Ext() string { return ".txt" }

// Framing implements Codec
func (Text) Framing() Framing { return FrameParagraph }

// Decode implements Codec
func (Text) Decode(frame []byte) (record.Record, error) {
	content := strings.TrimRight(string(frame), "\r\n")
	if normalize.Blank(content) {
		return record.Record{}, perr.WithField(perr.Malformedf("empty document"), "content")
	}
	return record.Record{Content: content}, nil
}

// Append implements Codec
// blank lines inside content would end the document early so they are dropped
func (Text) Append(dst []byte, r record.Record) ([]byte, error) {
	wrote := false
	for line := range strings.SplitSeq(r.Content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		dst = append(dst, line...)
		dst = append(dst, '\n')
		wrote = true
	}
	if !wrote {
		return dst, perr.WithField(perr.Malformedf("empty document"), "content")
	}
	return append(dst, '\n'), nil
}

// BlankLine reports whether line ends a paragraph framed document
func BlankLine(line []byte) bool { return len(bytes.TrimSpace(line)) == 0 }
