package main

import (
	"os"

	"github.com/metatypedev/ghjk/internal/cli"
	"github.com/metatypedev/ghjk/internal/ir"
)

var version = ir.GhjkVersion

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
