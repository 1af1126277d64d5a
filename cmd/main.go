package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	shelltest "github.com/mozpauljt/shelltest"
	"github.com/mozpauljt/shelltest/exitcodes"
	"github.com/mozpauljt/shelltest/flags"
	"github.com/mozpauljt/shelltest/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "shelltest"
	app.Usage = "Manifest-driven script test harness"
	app.Description = "shelltest runs interpreter script tests listed in a manifest"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitCodeForError(err)))
		}
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	// Start server
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.New()
	svc.Start(ctx)
	defer svc.Shutdown()

	// Start CLI
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCodeForError maps typed errors onto the documented exit codes.
func exitCodeForError(err error) int {
	if shelltest.IsRuntimeError(err) {
		return exitcodes.RuntimeErr
	}
	// Test failures and unspecified errors both exit 1
	return exitcodes.TestFailure
}

func run(cliCtx *cli.Context) error {
	logger, err := newLogger(cliCtx.String(flags.LogLevel.Name))
	if err != nil {
		return shelltest.NewRuntimeError(err)
	}

	cfg, err := shelltest.NewConfig(
		cliCtx,
		logger,
		cliCtx.String(flags.Manifest.Name),
		cliCtx.String(flags.Interpreter.Name),
	)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return shelltest.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	shutdown := make(chan error, 1)
	harness, err := shelltest.New(cliCtx.Context, cfg, Version, func(err error) {
		shutdown <- err
	})
	if err != nil {
		return shelltest.NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
	}

	if err := harness.Start(cliCtx.Context); err != nil {
		return err
	}

	if cfg.RunOnce {
		select {
		case err := <-shutdown:
			return err
		case <-cliCtx.Context.Done():
			return nil
		}
	}

	// Continuous mode: run until interrupted
	<-cliCtx.Context.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := harness.Stop(stopCtx); err != nil {
		logger.Error("Failed to stop harness", "error", err)
	}
	return harness.WaitForShutdown(stopCtx)
}

// newLogger builds the application logger at the requested level.
func newLogger(levelStr string) (log.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(levelStr) {
	case "trace":
		lvl = log.LevelTrace
	case "debug":
		lvl = log.LevelDebug
	case "", "info":
		lvl = log.LevelInfo
	case "warn":
		lvl = log.LevelWarn
	case "error":
		lvl = log.LevelError
	case "crit":
		lvl = log.LevelCrit
	default:
		return nil, fmt.Errorf("unknown log level: %s", levelStr)
	}
	logger := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, false))
	log.SetDefault(logger)
	return logger, nil
}
