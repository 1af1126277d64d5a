package shelltest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mozpauljt/shelltest/flags"
)

// Config holds the application configuration
type Config struct {
	Manifest          string         // Path to the test manifest
	Interpreter       string         // Interpreter binary run once per test
	FileFlag          string         // Interpreter flag preceding each script path
	WorkDir           string         // Working directory for test processes
	SymbolsPath       string         // Breakpad symbols directory for crash decoding
	TestingModulesDir string         // Shared test modules directory, exported to tests
	UtilityPath       string         // Helper binaries directory, prepended to PATH
	Info              map[string]any // Condition variables for skip-if/fail-if
	Shuffle           bool           // Randomize test execution order
	ShuffleSeed       int64          // Seed for shuffling; 0 means time-based
	Verbose           bool           // Replay interpreter output for passing tests too
	Sequential        bool           // Run tests one at a time
	MaxParallel       int            // Concurrent test workers (0 = auto-determine)
	TestTimeout       time.Duration  // Per-test timeout; 0 uses the runner default
	LogDir            string         // Directory to store test run logs
	RunInterval       time.Duration  // Interval between test runs
	RunOnce           bool           // Indicates if the service should exit after one test run
	Log               log.Logger
}

// profile is the YAML document behind the --profile flag. It carries the
// condition variables the manifest's skip-if/fail-if expressions see.
type profile struct {
	Info map[string]any `yaml:"info"`
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger, manifestPath string, interpreter string) (*Config, error) {
	// Parse flags
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}
	if interpreter == "" {
		return nil, errors.New("interpreter is required")
	}

	absManifest, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", manifestPath, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	info, err := loadProfile(ctx.String(flags.Profile.Name))
	if err != nil {
		return nil, err
	}

	return &Config{
		Manifest:          absManifest,
		Interpreter:       interpreter,
		FileFlag:          ctx.String(flags.FileFlag.Name),
		WorkDir:           ctx.String(flags.WorkDir.Name),
		SymbolsPath:       ctx.String(flags.Symbols.Name),
		TestingModulesDir: ctx.String(flags.TestingModulesDir.Name),
		UtilityPath:       ctx.String(flags.UtilityPath.Name),
		Info:              info,
		Shuffle:           ctx.Bool(flags.Shuffle.Name),
		ShuffleSeed:       ctx.Int64(flags.ShuffleSeed.Name),
		Verbose:           ctx.Bool(flags.Verbose.Name),
		Sequential:        ctx.Bool(flags.Sequential.Name),
		MaxParallel:       ctx.Int(flags.MaxParallel.Name),
		TestTimeout:       ctx.Duration(flags.TestTimeout.Name),
		LogDir:            logDir,
		RunInterval:       runInterval,
		RunOnce:           runOnce,
		Log:               log,
	}, nil
}

// loadProfile reads the condition variables from a YAML profile. An empty
// path yields an empty mapping, in which case every bare variable in a
// manifest condition evaluates as undefined.
func loadProfile(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile '%s': %w", path, err)
	}
	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile '%s': %w", path, err)
	}
	if p.Info == nil {
		p.Info = map[string]any{}
	}
	return p.Info, nil
}
