package codec

import (
	"bytes"
	"encoding/json"

	"oscartools/internal/core/normalize"
	"oscartools/internal/core/record"
	perr "oscartools/internal/platform/errors"
)

// JSONL is the OSCAR v2 layout: one JSON object per line
type JSONL struct{}

// Name implements Codec
func (JSONL) Name() string { return NameJSONL }

// Ext implements Codec
func (JSONL) Ext() string { return ".jsonl" }

// Framing implements Codec
func (JSONL) Framing() Framing { return FrameLine }

// Decode implements Codec
func (JSONL) Decode(frame []byte) (record.Record, error) {
	var r record.Record
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return r, perr.Malformedf("expected a json object")
	}
	if err := json.Unmarshal(frame, &r); err != nil {
		return record.Record{}, perr.Wrap(err, perr.ErrorCodeMalformed, "invalid json record")
	}
	if normalize.Blank(r.Content) {
		return record.Record{}, perr.WithField(perr.Malformedf("empty content after normalization"), "content")
	}
	return r, nil
}

// Append implements Codec
func (JSONL) Append(dst []byte, r record.Record) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	enc := json.NewEncoder(buf)
	// corpus text is not html; keep <, > and & readable
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return dst, perr.Wrap(err, perr.ErrorCodeMalformed, "encode record")
	}
	return buf.Bytes(), nil
}
