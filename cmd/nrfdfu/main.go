package main

import (
	"github.com/alecthomas/kong"

	"nrfdfu-tool/internal/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("nrfdfu"),
		kong.Description("Nordic legacy (buttonless) BLE DFU utility"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&c)
	ctx.FatalIfErrorf(err)
}
