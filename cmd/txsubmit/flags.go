package main

import (
	"github.com/urfave/cli/v2"
)

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to config file",
		Value:   "config.yaml",
		EnvVars: []string{"TXSUBMIT_CONFIG"},
	}
	DebugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "log at debug level",
	}
	LogJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "format logs as JSON",
	}
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "disable colored status output",
	}
	JobFlag = &cli.StringSliceFlag{
		Name:  "job",
		Usage: "only run the named job (repeatable)",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "serve prometheus metrics on this address, overrides metrics.listen",
	}
)

var globalFlags = []cli.Flag{
	ConfigFlag,
	DebugFlag,
	LogJSONFlag,
	NoColorFlag,
	JobFlag,
	MetricsAddrFlag,
}
