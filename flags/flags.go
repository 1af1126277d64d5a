package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "SHELLTEST"

// prefixEnvVars derives the env var name for a flag from its name suffix.
func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	Manifest = &cli.StringFlag{
		Name:     "manifest",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("MANIFEST"),
		Usage:    "Path to the test manifest (eg. 'shelltest.ini')",
	}
	Interpreter = &cli.StringFlag{
		Name:     "interpreter",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("INTERPRETER"),
		Usage:    "Path to the interpreter binary used to run test scripts",
	}
	FileFlag = &cli.StringFlag{
		Name:    "file-flag",
		Value:   "",
		EnvVars: prefixEnvVars("FILE_FLAG"),
		Usage:   "Interpreter flag preceding each script path (eg. '-f'); empty for bare paths",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   "",
		EnvVars: prefixEnvVars("WORKDIR"),
		Usage:   "Working directory for test processes; defaults to the manifest directory",
	}
	Symbols = &cli.StringFlag{
		Name:    "symbols",
		Value:   "",
		EnvVars: prefixEnvVars("SYMBOLS"),
		Usage:   "Path to a breakpad symbols directory used to decode crash stacks",
	}
	TestingModulesDir = &cli.StringFlag{
		Name:    "testing-modules-dir",
		Value:   "",
		EnvVars: prefixEnvVars("TESTING_MODULES_DIR"),
		Usage:   "Directory of shared test modules, exported to tests as TESTING_MODULES_DIR",
	}
	UtilityPath = &cli.StringFlag{
		Name:    "utility-path",
		Value:   "",
		EnvVars: prefixEnvVars("UTILITY_PATH"),
		Usage:   "Directory of helper binaries prepended to the PATH of test processes",
	}
	Profile = &cli.StringFlag{
		Name:    "profile",
		Value:   "",
		EnvVars: prefixEnvVars("PROFILE"),
		Usage:   "Path to a YAML profile providing the condition variables for skip-if/fail-if",
	}
	Shuffle = &cli.BoolFlag{
		Name:    "shuffle",
		Value:   false,
		EnvVars: prefixEnvVars("SHUFFLE"),
		Usage:   "Randomize test execution order",
	}
	ShuffleSeed = &cli.Int64Flag{
		Name:    "shuffle-seed",
		Value:   0,
		EnvVars: prefixEnvVars("SHUFFLE_SEED"),
		Usage:   "Seed for --shuffle; 0 picks a time-based seed",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Value:   false,
		EnvVars: prefixEnvVars("VERBOSE"),
		Usage:   "Replay interpreter output for passing tests too",
	}
	Sequential = &cli.BoolFlag{
		Name:    "sequential",
		Value:   false,
		EnvVars: prefixEnvVars("SEQUENTIAL"),
		Usage:   "Run tests one at a time instead of in parallel",
	}
	MaxParallel = &cli.IntFlag{
		Name:    "max-parallel",
		Value:   0,
		EnvVars: prefixEnvVars("MAX_PARALLEL"),
		Usage:   "Number of concurrent test workers (0 = number of CPUs)",
	}
	TestTimeout = &cli.DurationFlag{
		Name:    "test-timeout",
		Value:   0,
		EnvVars: prefixEnvVars("TEST_TIMEOUT"),
		Usage:   "Per-test timeout (e.g. '5m'). Set to 0 for the default.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory to store test run logs",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "The lowest log level that will be output",
	}
)

var requiredFlags = []cli.Flag{
	Manifest,
	Interpreter,
}

var optionalFlags = []cli.Flag{
	FileFlag,
	WorkDir,
	Symbols,
	TestingModulesDir,
	UtilityPath,
	Profile,
	Shuffle,
	ShuffleSeed,
	Verbose,
	Sequential,
	MaxParallel,
	TestTimeout,
	LogDir,
	RunInterval,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
