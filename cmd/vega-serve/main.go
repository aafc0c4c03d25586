// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/antgroup/vega/pkg/version"
	"github.com/sirupsen/logrus"
)

type App struct {
	Globals
	Serve  Serve  `cmd:"serve" help:"Start the configuration repository server"`
	Keygen Keygen `cmd:"keygen" help:"Generate a random authentication secret"`
	Doctor Doctor `cmd:"doctor" help:"Check the integrity of an on-disk repository store"`
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("vega-serve"),
		kong.Description("Vega - A highly available, version-controlled configuration repository"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version.GetVersionString(),
		},
	)
	if app.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if err := ctx.Run(&app.Globals); err != nil {
		os.Exit(1)
	}
}
