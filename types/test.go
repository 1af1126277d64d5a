// Package types contains shared types used across the shelltest harness.
package types

import (
	"time"
)

// TestStatus represents the possible outcomes of a single test entry.
type TestStatus string

const (
	// TestStatusPass means the test ran and passed as expected.
	TestStatusPass TestStatus = "pass"
	// TestStatusFail means the test produced an unexpected outcome: an
	// unexpected failure, an unexpected pass of a known-fail entry, a
	// timeout or a crash.
	TestStatusFail TestStatus = "fail"
	// TestStatusSkip means the entry was skipped by a manifest condition
	// and its body never ran.
	TestStatusSkip TestStatus = "skip"
	// TestStatusTodo means a known-fail entry failed, which is the
	// expected outcome for it.
	TestStatusTodo TestStatus = "todo"
)

// String implements the Stringer interface for TestStatus.
func (s TestStatus) String() string {
	return string(s)
}

// TestResult captures the outcome of a single test entry run.
type TestResult struct {
	Entry    TestEntry
	Status   TestStatus
	Error    error
	Duration time.Duration
	ExitCode int
	TimedOut bool   // The entry exceeded its timeout and was terminated
	Crashed  bool   // The interpreter process died on a signal
	Output   string // Captured interpreter output (tail), for failing tests
}

// RunStats tracks aggregate counters for a run. Skipped entries count
// towards Total but not towards any of the other counters.
type RunStats struct {
	Total     int
	Passed    int
	Failed    int
	Todo      int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

// Record counts a single result into the stats.
func (s *RunStats) Record(status TestStatus) {
	s.Total++
	switch status {
	case TestStatusPass:
		s.Passed++
	case TestStatusFail:
		s.Failed++
	case TestStatusTodo:
		s.Todo++
	case TestStatusSkip:
		s.Skipped++
	}
}

// Succeeded reports whether the run as a whole passed: every non-skipped
// entry either passed or matched its known-fail expectation.
func (s *RunStats) Succeeded() bool {
	return s.Failed == 0
}
