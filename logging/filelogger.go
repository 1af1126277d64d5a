package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"

	"github.com/mozpauljt/shelltest/types"
)

const (
	// RunDirectoryPrefix is the standardized prefix for per-run log
	// directories under the base log directory.
	RunDirectoryPrefix = "testrun-"

	summaryFilename = "summary.log"
	allLogsFilename = "all.log"
)

// ResultSink is an interface for different ways of consuming test results.
type ResultSink interface {
	// Consume processes a single test result.
	Consume(result *types.TestResult, runID string) error
	// Complete is called once all results have been consumed.
	Complete(runID string, stats types.RunStats) error
}

// FileLogger persists test output to a per-run directory tree:
// all.log with every structured line, summary.log written at completion,
// and one output file per test split into passed/ and failed/.
type FileLogger struct {
	baseDir   string
	logDir    string
	passedDir string
	failedDir string
	runID     string

	mu      sync.Mutex
	allLogs *AsyncFile
	sinks   []ResultSink
}

// NewFileLogger creates the per-run directory layout and opens all.log.
func NewFileLogger(baseDir, runID string) (*FileLogger, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	passedDir := filepath.Join(logDir, "passed")
	failedDir := filepath.Join(logDir, "failed")
	for _, dir := range []string{baseDir, logDir, passedDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	allLogs, err := NewAsyncFile(filepath.Join(logDir, allLogsFilename))
	if err != nil {
		return nil, err
	}

	l := &FileLogger{
		baseDir:   baseDir,
		logDir:    logDir,
		passedDir: passedDir,
		failedDir: failedDir,
		runID:     runID,
		allLogs:   allLogs,
	}
	l.sinks = append(l.sinks, &summarySink{logger: l})
	return l, nil
}

// GetRunID returns the run ID this logger was created for.
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetDirectory returns the per-run log directory.
func (l *FileLogger) GetDirectory() string {
	return l.logDir
}

// AddSink registers an additional result sink.
func (l *FileLogger) AddSink(sink ResultSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Write mirrors one structured log line into all.log. It implements
// io.Writer so the FileLogger can be attached to a Stream.
func (l *FileLogger) Write(p []byte) (int, error) {
	if err := l.allLogs.Write([]byte(stripansi.Strip(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// LogTestResult persists the captured output of one test and feeds the
// result to every sink. Output files land in passed/ or failed/ depending
// on outcome; ANSI escapes are stripped before writing.
func (l *FileLogger) LogTestResult(result *types.TestResult) error {
	dir := l.passedDir
	if result.Status == types.TestStatusFail {
		dir = l.failedDir
	}

	filename := filepath.Join(dir, sanitizeFilename(result.Entry.ID())+".log")
	var b strings.Builder
	fmt.Fprintf(&b, "test: %s\n", result.Entry.ID())
	fmt.Fprintf(&b, "status: %s\n", result.Status)
	fmt.Fprintf(&b, "duration: %s\n", result.Duration)
	if result.Error != nil {
		fmt.Fprintf(&b, "error: %s\n", result.Error)
	}
	if result.Output != "" {
		b.WriteString("\n")
		b.WriteString(stripansi.Strip(result.Output))
		if !strings.HasSuffix(result.Output, "\n") {
			b.WriteString("\n")
		}
	}
	if err := os.WriteFile(filename, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing test log %s: %w", filename, err)
	}

	l.mu.Lock()
	sinks := append([]ResultSink{}, l.sinks...)
	l.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Consume(result, l.runID); err != nil {
			return err
		}
	}
	return nil
}

// Complete flushes sinks and closes all.log. Call once per run.
func (l *FileLogger) Complete(stats types.RunStats) error {
	l.mu.Lock()
	sinks := append([]ResultSink{}, l.sinks...)
	l.mu.Unlock()
	for _, sink := range sinks {
		if err := sink.Complete(l.runID, stats); err != nil {
			return err
		}
	}
	return l.allLogs.Close()
}

// summarySink accumulates one line per test and writes summary.log when the
// run completes.
type summarySink struct {
	logger *FileLogger

	mu    sync.Mutex
	lines []string
}

func (s *summarySink) Consume(result *types.TestResult, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf("%-7s %s (%s)", result.Status, result.Entry.ID(), result.Duration))
	return nil
}

func (s *summarySink) Complete(runID string, stats types.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "run: %s\n", runID)
	fmt.Fprintf(&b, "total: %d, passed: %d, failed: %d, todo: %d, skipped: %d\n\n",
		stats.Total, stats.Passed, stats.Failed, stats.Todo, stats.Skipped)
	for _, line := range s.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return os.WriteFile(filepath.Join(s.logger.logDir, summaryFilename), []byte(b.String()), 0644)
}

// sanitizeFilename makes a test name safe to use as a file name.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(name)
}
