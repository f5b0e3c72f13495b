package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"oscartools/internal/platform/logger"
	"oscartools/internal/services/pipeline/domain"

	"github.com/dustin/go-humanize"
)

// printReport writes one row per unit and a total row
func printReport(out io.Writer, rep domain.Report) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSTATE\tREAD\tKEPT\tMODIFIED\tDROPPED\tMALFORMED\tIN\tOUT\tSHARDS")
	for _, u := range rep.Units {
		state := u.State.String()
		if u.Resumed {
			state = "resumed"
		}
		row(tw, u.Unit.Name, state, u.Counters, len(u.Shards))
	}
	total, shards := rep.Totals()
	row(tw, "total", fmt.Sprintf("%d/%d failed", len(rep.Failed()), len(rep.Units)), total, shards)
	_ = tw.Flush()
	fmt.Fprintf(out, "job %s\n", rep.JobID)
}

func row(w io.Writer, name, state string, c domain.Counters, shards int) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
		name, state,
		humanize.Comma(c.Read), humanize.Comma(c.Kept), humanize.Comma(c.Modified),
		humanize.Comma(c.Dropped), humanize.Comma(c.Malformed),
		humanize.Bytes(uint64(c.BytesIn)), humanize.Bytes(uint64(c.BytesWritten)),
		shards)
}

// logFailures reports every failed unit and its diagnostics on the log stream
func logFailures(rep domain.Report) {
	log := logger.Named("report")
	for _, u := range rep.Units {
		for _, d := range u.Diagnostics {
			ev := log.Warn().Str("unit", filepath.Base(u.Unit.Path)).Str("kind", d.Kind.String())
			if d.HasPos {
				ev = ev.Int64("offset", d.Offset).Int64("index", d.Index)
			}
			ev.Msg(d.Message)
		}
		if u.DiagnosticsDropped > 0 {
			log.Warn().Str("unit", filepath.Base(u.Unit.Path)).Int("dropped", u.DiagnosticsDropped).Msg("diagnostics truncated")
		}
		if u.State == domain.StateFailed {
			log.Error().Err(u.Err).Str("unit", u.Unit.Path).Str("kind", u.Kind().String()).Msg("unit failed")
		}
	}
}
