// Command oscar-tools runs the OSCAR corpus operations: language code
// updates, clean extraction, splitting, compression and text extraction
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	perr "oscartools/internal/platform/errors"
	"oscartools/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs the cli and maps the outcome to an exit status
func execute(ctx context.Context, args []string) int {
	var code int
	root := newRoot(&code)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		l := logger.Get()
		ev := l.Error().Err(err).Str("kind", perr.CodeOf(err).String())
		if e, ok := perr.As(err); ok && e.Field() != "" {
			ev = ev.Str("field", e.Field())
		}
		ev.Msg("oscar-tools failed")
		// cobra flag and argument errors carry no code
		if _, ok := perr.As(err); !ok {
			return perr.ExitConfig
		}
		return perr.ExitCode(err)
	}
	return code
}
