// Package main provides the streamrun-worker CLI entrypoint.
//
// Usage:
//
//	streamrun-worker run -config <path> -plan <path> [options]
//	streamrun-worker inspect -addr <host:port>
//	streamrun-worker stats -addr <host:port>
//
// Exit codes for `run`:
//   - 0: clean shutdown (signal or plan exhaustion)
//   - 1: configuration error
//   - 2: fatal runtime error (unrecoverable channel, arena corruption)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	app := &cli.App{
		Name:           "streamrun-worker",
		Usage:          "streamrun worker data-plane process",
		Version:        version,
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			runCommand(),
			inspectCommand(),
			statsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitFatal)
	}
}

// exitErrHandler preserves exit codes carried by cli.Exit() errors.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitFatal)
}
