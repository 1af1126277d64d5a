// Package runner executes manifest test entries, one external interpreter
// process per entry, and aggregates the results of a run.
package runner

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mozpauljt/shelltest/logging"
	"github.com/mozpauljt/shelltest/manifest"
	"github.com/mozpauljt/shelltest/metrics"
	"github.com/mozpauljt/shelltest/symbolizer"
	"github.com/mozpauljt/shelltest/types"
)

// defaultTestTimeout bounds a single test when no timeout is configured.
const defaultTestTimeout = 5 * time.Minute

// RunResult captures the complete outcome of one harness run.
type RunResult struct {
	Tests    map[string]*types.TestResult
	Stats    types.RunStats
	Status   types.TestStatus
	Duration time.Duration
	RunID    string
}

// Passed reports overall success: true iff every non-skipped entry passed
// or matched its known-fail expectation.
func (r *RunResult) Passed() bool {
	return r.Stats.Succeeded()
}

// String returns a formatted summary of the run results.
func (r *RunResult) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Test Run Results (%s):\n", FormatDuration(r.Duration)))
	b.WriteString(fmt.Sprintf("Total: %d, Passed: %d, Failed: %d, Todo: %d, Skipped: %d\n",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Todo, r.Stats.Skipped))
	for name, test := range r.Tests {
		b.WriteString(fmt.Sprintf("├── %s (%s) [status=%s]\n",
			name, test.Duration.Round(time.Millisecond), test.Status))
		if test.Error != nil {
			b.WriteString(fmt.Sprintf("│       └── Error: %s\n", test.Error.Error()))
		}
	}
	return b.String()
}

// TestRunner defines the interface for running manifest tests.
type TestRunner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// Config holds configuration for creating a new runner.
type Config struct {
	Manifest    *manifest.Manifest
	Interpreter string // Path to the interpreter binary run per test
	FileFlag    string // Flag preceding each script path, e.g. "-f"; empty for bare paths
	WorkDir     string // Working directory for test processes; defaults to the manifest dir

	SymbolsPath       string // Breakpad symbols directory used to decode crash frames
	TestingModulesDir string // Exported to tests as TESTING_MODULES_DIR
	UtilityPath       string // Prepended to PATH of test processes

	Shuffle     bool  // Randomize execution order
	ShuffleSeed int64 // Seed for shuffling; 0 means time-based
	Verbose     bool  // Replay interpreter output for passing tests too
	Sequential  bool  // Run everything one at a time
	MaxParallel int   // Worker limit for parallel execution; defaults to NumCPU

	TestTimeout time.Duration // Per-test timeout; defaults to defaultTestTimeout

	Log        log.Logger
	Stream     *logging.Stream
	FileLogger *logging.FileLogger
}

type runner struct {
	cfg        Config
	entries    []types.TestEntry
	log        log.Logger
	stream     *logging.Stream
	fileLogger *logging.FileLogger
	symbols    *symbolizer.Symbolizer
	tracer     trace.Tracer
	runID      string
}

// NewRunner creates a new test runner instance.
func NewRunner(cfg Config) (TestRunner, error) {
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if cfg.Interpreter == "" {
		return nil, fmt.Errorf("interpreter is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Stream == nil {
		cfg.Stream = logging.NewStream()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = cfg.Manifest.Dir
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = runtime.NumCPU()
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = defaultTestTimeout
	}

	entries := cfg.Manifest.Entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("no test entries found in %s", cfg.Manifest.Path)
	}

	var symbols *symbolizer.Symbolizer
	if cfg.SymbolsPath != "" {
		var err error
		symbols, err = symbolizer.New(cfg.SymbolsPath)
		if err != nil {
			return nil, fmt.Errorf("loading symbols: %w", err)
		}
	}

	cfg.Log.Debug("NewRunner()",
		"manifest", cfg.Manifest.Path,
		"interpreter", cfg.Interpreter,
		"entries", len(entries),
		"shuffle", cfg.Shuffle,
		"sequential", cfg.Sequential,
		"timeout", cfg.TestTimeout)

	return &runner{
		cfg:        cfg,
		entries:    entries,
		log:        cfg.Log,
		stream:     cfg.Stream,
		fileLogger: cfg.FileLogger,
		symbols:    symbols,
		tracer:     otel.Tracer("test runner"),
	}, nil
}

// Run implements the TestRunner interface. Test failures are recorded in
// the result; a non-nil error means the run itself could not proceed
// (fatal configuration problems such as a missing head file).
func (r *runner) Run(ctx context.Context) (*RunResult, error) {
	if r.fileLogger != nil {
		r.runID = r.fileLogger.GetRunID()
	} else {
		r.runID = uuid.New().String()
	}
	start := time.Now()
	r.log.Debug("Running all tests", "run_id", r.runID)

	ctx, span := r.tracer.Start(ctx, "test run")
	defer span.End()

	if err := r.verifyScripts(); err != nil {
		return nil, err
	}

	ordered := r.executionOrder()
	parallel, serial := r.partition(ordered)

	result := &RunResult{
		Tests: make(map[string]*types.TestResult),
		Stats: types.RunStats{StartTime: start},
		RunID: r.runID,
	}
	var mu sync.Mutex
	record := func(res *types.TestResult) {
		mu.Lock()
		result.Tests[res.Entry.ID()] = res
		result.Stats.Record(res.Status)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxParallel)
	for _, entry := range parallel {
		entry := entry
		g.Go(func() error {
			record(r.runEntry(gctx, entry))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, entry := range serial {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record(r.runEntry(ctx, entry))
	}

	result.Duration = time.Since(start)
	result.Stats.EndTime = time.Now()
	result.Status = determineRunStatus(result)
	return result, nil
}

// verifyScripts checks every referenced script before any process spawns.
// A missing head or tail file is a configuration error that aborts the
// whole run, distinct from any test failure.
func (r *runner) verifyScripts() error {
	for _, entry := range r.entries {
		for _, head := range entry.HeadFiles {
			if _, err := os.Stat(head); err != nil {
				return fmt.Errorf("head file %s does not exist (referenced by %s)", head, entry.ID())
			}
		}
		for _, tail := range entry.TailFiles {
			if _, err := os.Stat(tail); err != nil {
				return fmt.Errorf("tail file %s does not exist (referenced by %s)", tail, entry.ID())
			}
		}
	}
	return nil
}

// executionOrder returns the entries in manifest order, or shuffled when
// requested.
func (r *runner) executionOrder() []types.TestEntry {
	ordered := make([]types.TestEntry, len(r.entries))
	copy(ordered, r.entries)

	if r.cfg.Shuffle {
		seed := r.cfg.ShuffleSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		r.log.Debug("Shuffling execution order", "seed", seed)
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}
	return ordered
}

// partition splits entries into a parallel phase and a serial phase.
// Entries marked run-sequentially always land in the serial phase; the
// sequential flag forces everything serial.
func (r *runner) partition(ordered []types.TestEntry) (parallel, serial []types.TestEntry) {
	if r.cfg.Sequential {
		return nil, ordered
	}
	for _, entry := range ordered {
		if entry.RunSequentially {
			serial = append(serial, entry)
		} else {
			parallel = append(parallel, entry)
		}
	}
	return parallel, serial
}

// runEntry executes one manifest entry and returns its result. Failures
// are captured in the result, never returned as errors.
func (r *runner) runEntry(ctx context.Context, entry types.TestEntry) *types.TestResult {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", entry.ID()))
	defer span.End()

	result := &types.TestResult{Entry: entry}

	if entry.Skip {
		result.Status = types.TestStatusSkip
		r.stream.Append(logging.MarkerSkip, entry.ID(), entry.Reason)
		r.log.Info("Skipping test", "test", entry.ID(), "reason", entry.Reason)
		r.finishEntry(result)
		return result
	}

	r.stream.Append(logging.MarkerTestStart, entry.ID(), "")
	r.log.Info("Running test", "test", entry.ID())

	tctx, cancel := context.WithTimeout(ctx, r.cfg.TestTimeout)
	defer cancel()
	proc := r.execute(tctx, entry)

	output := proc.output
	if r.symbols != nil {
		output = r.symbols.FixStackFrames(output)
	}
	result.Duration = proc.duration
	result.ExitCode = proc.exitCode
	result.TimedOut = proc.timedOut
	result.Crashed = proc.crashed
	result.Output = output

	switch {
	case proc.startErr != nil:
		result.Status = types.TestStatusFail
		result.Error = fmt.Errorf("failed to start interpreter: %w", proc.startErr)
		r.stream.Append(logging.MarkerFail, entry.ID(), result.Error.Error())

	case proc.timedOut:
		result.Status = types.TestStatusFail
		result.Error = fmt.Errorf("test timed out after %s", r.cfg.TestTimeout)
		r.stream.Append(logging.MarkerTimeout, entry.ID(), result.Error.Error())

	case proc.crashed:
		result.Status = types.TestStatusFail
		result.Error = fmt.Errorf("process crashed: %s", proc.crashDetail)
		r.stream.Append(logging.MarkerCrash, entry.ID(), proc.crashDetail)

	case proc.exitCode == 0 && entry.ExpectFail:
		result.Status = types.TestStatusFail
		result.Error = fmt.Errorf("test was expected to fail, but passed")
		r.stream.Append(logging.MarkerUnexpectedPass, entry.ID(), result.Error.Error())

	case proc.exitCode == 0:
		result.Status = types.TestStatusPass
		r.stream.Append(logging.MarkerPass, entry.ID(), fmt.Sprintf("took %s", proc.duration.Round(time.Millisecond)))

	case entry.ExpectFail:
		result.Status = types.TestStatusTodo
		r.stream.Append(logging.MarkerKnownFail, entry.ID(), fmt.Sprintf("known failure (exit status %d)", proc.exitCode))

	default:
		result.Status = types.TestStatusFail
		result.Error = fmt.Errorf("exit status %d", proc.exitCode)
		r.stream.Append(logging.MarkerFail, entry.ID(), result.Error.Error())
	}

	// The full interpreter log is only shown for unexpected outcomes,
	// unless verbosity asks for it always.
	if output != "" && (r.cfg.Verbose || entry.Verbose || result.Status == types.TestStatusFail) {
		r.replayOutput(entry.ID(), output)
	}

	r.finishEntry(result)
	return result
}

// finishEntry records metrics and persists the result.
func (r *runner) finishEntry(result *types.TestResult) {
	metrics.RecordTest(r.runID, result.Entry.ID(), result.Status)
	if r.fileLogger != nil {
		if err := r.fileLogger.LogTestResult(result); err != nil {
			r.log.Error("Failed to write test log", "test", result.Entry.ID(), "error", err)
		}
	}
}

// determineRunStatus determines the overall status of the run.
func determineRunStatus(result *RunResult) types.TestStatus {
	if result.Stats.Failed > 0 {
		return types.TestStatusFail
	}
	if result.Stats.Skipped == result.Stats.Total {
		return types.TestStatusSkip
	}
	return types.TestStatusPass
}

var _ TestRunner = &runner{}
