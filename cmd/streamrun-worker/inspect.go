package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/streamrun/cli/tui"
)

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "render a running worker's full metrics snapshot",
		Flags: debugAddrFlags(),
		Action: func(c *cli.Context) error {
			return renderSnapshot(c, "inspect")
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "render a running worker's compact stats dashboard",
		Flags: debugAddrFlags(),
		Action: func(c *cli.Context) error {
			return renderSnapshot(c, "stats")
		},
	}
}

func debugAddrFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "address of the worker's debug endpoint",
			Value: "127.0.0.1:7777",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "render interactively instead of a static snapshot",
		},
	}
}

func renderSnapshot(c *cli.Context, mode string) error {
	snap, err := fetchSnapshot(c.String("addr"))
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	if c.Bool("tui") && isatty.IsTerminal(os.Stdout.Fd()) {
		return tui.Run(mode, snap)
	}

	switch mode {
	case "inspect":
		fmt.Println(tui.RenderInspectStatic(snap))
	case "stats":
		fmt.Println(tui.RenderStatsStatic(snap))
	}
	return nil
}
