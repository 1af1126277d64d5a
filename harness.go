// Package shelltest wires the manifest, runner, logging and metrics into a
// service that runs script tests once or on a schedule.
package shelltest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/mozpauljt/shelltest/exitcodes"
	"github.com/mozpauljt/shelltest/logging"
	"github.com/mozpauljt/shelltest/manifest"
	"github.com/mozpauljt/shelltest/runner"
	"github.com/mozpauljt/shelltest/types"
)

// Harness runs manifest script tests and reports their results.
type Harness struct {
	ctx      context.Context
	config   *Config
	version  string
	manifest *manifest.Manifest
	result   *runner.RunResult

	scheduler TestScheduler
	formatter ResultFormatter
	reporter  MetricsReporter

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Harness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating harness with config",
		"manifest", config.Manifest,
		"interpreter", config.Interpreter,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"shuffle", config.Shuffle)

	m, err := manifest.Load(manifest.Config{
		Log:  config.Log,
		Path: config.Manifest,
		Info: config.Info,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	config.Log.Info("harness.New: loaded manifest", "entries", len(m.Entries()))

	return &Harness{
		ctx:              ctx,
		config:           config,
		version:          version,
		manifest:         m,
		scheduler:        NewDefaultTestScheduler(config.RunInterval, config.RunOnce, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the tests, either once or periodically at the configured
// interval. A nil return in run-once mode means every test passed or
// matched its known-fail expectation.
func (h *Harness) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			h.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	h.ctx = ctx

	if h.config.RunOnce {
		h.config.Log.Info("Starting shelltest in run-once mode")
	} else {
		h.config.Log.Info("Starting shelltest in continuous mode", "interval", h.config.RunInterval)
	}

	h.scheduler.RegisterCallback(h.runTests)
	if err := h.scheduler.Start(ctx); err != nil {
		return err
	}

	if h.config.RunOnce {
		h.config.Log.Info("Tests completed, exiting (run-once mode)")

		if h.result != nil && h.result.Status == types.TestStatusFail {
			h.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(h.result.String())
		}

		// Only need to call this when we're in run-once mode and all tests passed
		go func() {
			h.shutdownCallback(nil)
		}()
	}
	return nil
}

// runTests runs all tests once and processes the results. Test failures
// land in the result; a returned error is a runtime problem such as a bad
// manifest reference or an unwritable log directory.
func (h *Harness) runTests() error {
	fileLogger, err := logging.NewFileLogger(h.config.LogDir, uuid.New().String())
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}
	fileLogger.AddSink(logging.NewHTMLSink(fileLogger.GetDirectory()))

	testRunner, err := runner.NewRunner(runner.Config{
		Manifest:          h.manifest,
		Interpreter:       h.config.Interpreter,
		FileFlag:          h.config.FileFlag,
		WorkDir:           h.config.WorkDir,
		SymbolsPath:       h.config.SymbolsPath,
		TestingModulesDir: h.config.TestingModulesDir,
		UtilityPath:       h.config.UtilityPath,
		Shuffle:           h.config.Shuffle,
		ShuffleSeed:       h.config.ShuffleSeed,
		Verbose:           h.config.Verbose,
		Sequential:        h.config.Sequential,
		MaxParallel:       h.config.MaxParallel,
		TestTimeout:       h.config.TestTimeout,
		Log:               h.config.Log,
		Stream:            logging.NewStream(fileLogger, os.Stdout),
		FileLogger:        fileLogger,
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	executor := NewDefaultTestExecutor(testRunner, h.config.Log)
	result, err := executor.RunTests(h.ctx)
	if err != nil {
		return NewRuntimeError(err)
	}
	h.result = result

	if err := h.formatter.FormatResults(result); err != nil {
		h.config.Log.Error("Failed to format results", "error", err)
	}
	h.reporter.ReportResults(result.RunID, result)

	if err := fileLogger.Complete(result.Stats); err != nil {
		h.config.Log.Error("Failed to finalize test logs", "error", err)
	}

	h.config.Log.Info("Test run completed",
		"run_id", result.RunID,
		"status", result.Status,
		"logs", fileLogger.GetDirectory())
	return nil
}

// Result returns the most recent run result, or nil before the first run.
func (h *Harness) Result() *runner.RunResult {
	return h.result
}

// Stop stops the harness service.
func (h *Harness) Stop(ctx context.Context) error {
	h.config.Log.Info("Stopping shelltest")
	if err := h.scheduler.Stop(); err != nil {
		return err
	}
	h.config.Log.Info("shelltest stopped successfully")
	return nil
}

// Stopped returns true if the harness service is stopped.
func (h *Harness) Stopped() bool {
	return h.scheduler.Stopped()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (h *Harness) WaitForShutdown(ctx context.Context) error {
	return h.scheduler.WaitForShutdown(ctx)
}
