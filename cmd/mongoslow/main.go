// Command mongoslow extracts slow operations from a MongoDB server log into
// DuckDB and reports the most expensive query shapes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/tinytelemetry/mongoslow/internal/model"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

const (
	exitOK              = 0
	exitFailure         = 1
	exitInvalidArgument = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process exit, so tests can drive it.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "mongoslow - MongoDB slow query analyzer\n")
		fmt.Fprintf(stdout, "  Version:    %s\n", version)
		fmt.Fprintf(stdout, "  Commit:     %s\n", commit)
		fmt.Fprintf(stdout, "  Built:      %s\n", buildTime)
		fmt.Fprintf(stdout, "  Go version: %s\n", goVersion)
		return exitOK
	}

	if err := analyze(ctx, cfg, stdin, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, model.ErrInvalidArgument):
		return exitInvalidArgument
	default:
		return exitFailure
	}
}
