package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"txsubmit/internal/app"
	"txsubmit/internal/config"
	"txsubmit/internal/metrics"
	"txsubmit/internal/report"
)

func main() {
	cliApp := &cli.App{
		Name:  "txsubmit",
		Usage: "submit EVM transactions with fresh fees, gas simulation and rate-limit tolerant broadcast",
		Flags: globalFlags,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "submit the configured jobs and wait for their receipts",
				Action: runCommand,
			},
			{
				Name:   "estimate",
				Usage:  "compute fees and simulate gas for the configured jobs without sending",
				Action: estimateCommand,
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand(c *cli.Context) error {
	return withApp(c, true, func(ctx context.Context, a *app.App) error {
		return a.Run(ctx)
	})
}

func estimateCommand(c *cli.Context) error {
	return withApp(c, false, func(ctx context.Context, a *app.App) error {
		return a.Estimate(ctx)
	})
}

func withApp(c *cli.Context, serveMetrics bool, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(c.String(ConfigFlag.Name))
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := newLogger(c)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	noColor := c.Bool(NoColorFlag.Name) || !isatty.IsTerminal(os.Stdout.Fd())
	opts := app.Options{
		Jobs:     c.StringSlice(JobFlag.Name),
		Reporter: report.New(colorable.NewColorableStdout(), noColor),
	}

	addr := cfg.Metrics.Listen
	if c.IsSet(MetricsAddrFlag.Name) {
		addr = c.String(MetricsAddrFlag.Name)
	}
	if serveMetrics && addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Observer = metrics.NewCollector(reg)

		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- metrics.NewServer(addr, reg, logger).Run(srvCtx)
		}()
		defer func() {
			cancel()
			if err := <-done; err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	return fn(ctx, app.New(cfg, logger, opts))
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if c.Bool(DebugFlag.Name) {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Bool(LogJSONFlag.Name) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
