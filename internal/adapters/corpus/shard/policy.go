package shard

import (
	"strconv"
	"strings"

	perr "oscartools/internal/platform/errors"

	"github.com/dustin/go-humanize"
)

// Kind selects what a shard limit counts
type Kind string

// Policy kinds
const (
	Unbounded Kind = "unbounded"
	Bytes     Kind = "bytes"
	Records   Kind = "records"
)

// Policy bounds the size of one shard
// Bytes counts encoded bytes before compression
type Policy struct {
	Kind  Kind
	Limit int64
}

// Bounded reports whether the policy rotates shards
func (p Policy) Bounded() bool { return p.Kind == Bytes || p.Kind == Records }

// Check rejects unknown kinds and non positive limits on bounded kinds
func (p Policy) Check() error {
	switch p.Kind {
	case Unbounded, "":
		return nil
	case Bytes, Records:
		if p.Limit <= 0 {
			return perr.WithField(perr.Configf("shard limit must be positive, got %d", p.Limit), "shard-limit")
		}
		return nil
	}
	return perr.WithField(perr.Configf("unknown shard policy %q", p.Kind), "shard-policy")
}

func (p Policy) String() string {
	switch p.Kind {
	case Bytes:
		return "bytes:" + humanize.Bytes(uint64(p.Limit))
	case Records:
		return "records:" + strconv.FormatInt(p.Limit, 10)
	}
	return string(Unbounded)
}

// ParsePolicy reads a kind and a limit; byte limits accept humanized sizes (500MB, 1GiB)
func ParsePolicy(kind, limit string) (Policy, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(kind)))
	limit = strings.TrimSpace(limit)
	var p Policy
	switch k {
	case "", Unbounded, "none":
		return Policy{Kind: Unbounded}, nil
	case Bytes, "size":
		n, err := humanize.ParseBytes(limit)
		if err != nil {
			return p, perr.WithField(perr.Wrapf(err, perr.ErrorCodeConfiguration, "invalid shard size %q", limit), "shard-limit")
		}
		p = Policy{Kind: Bytes, Limit: int64(n)}
	case Records, "count":
		n, err := strconv.ParseInt(strings.ReplaceAll(limit, "_", ""), 10, 64)
		if err != nil {
			return p, perr.WithField(perr.Wrapf(err, perr.ErrorCodeConfiguration, "invalid shard record count %q", limit), "shard-limit")
		}
		p = Policy{Kind: Records, Limit: n}
	default:
		p = Policy{Kind: k}
	}
	return p, p.Check()
}
