// Package logging provides the structured log stream that the harness
// writes test events to, and the file sinks that persist per-run output.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Status markers emitted by the harness, one structured line per notable
// event. Assertions in callers key off these exact strings.
const (
	MarkerTestStart      = "TEST-START"
	MarkerPass           = "TEST-PASS"
	MarkerFail           = "TEST-UNEXPECTED-FAIL"
	MarkerTimeout        = "TEST-UNEXPECTED-TIMEOUT"
	MarkerUnexpectedPass = "TEST-UNEXPECTED-PASS"
	MarkerSkip           = "TEST-SKIP"
	MarkerKnownFail      = "TEST-FAIL"
	MarkerCrash          = "PROCESS-CRASH"
	MarkerInfo           = "TEST-INFO"
	MarkerProcessOutput  = "PROCESS-OUTPUT"
)

// Child-process test brackets. The harness does not emit these itself;
// delegating tests print them and they reach the stream through replayed
// process output.
const (
	MarkerChildStarted   = "CHILD-TEST-STARTED"
	MarkerChildCompleted = "CHILD-TEST-COMPLETED"
)

// Stream is an append-only ordered sequence of structured log lines. It is
// the only sink shared between concurrently running tests; appends are
// atomic per line but interleaving across tests is not ordered when the
// runner executes in parallel.
type Stream struct {
	mu      sync.Mutex
	lines   []string
	writers []io.Writer
}

// NewStream creates a stream that mirrors every line to the given writers.
func NewStream(writers ...io.Writer) *Stream {
	return &Stream{writers: writers}
}

// Append adds one structured line to the stream.
// Lines have the form "MARKER | test | message".
func (s *Stream) Append(marker, test, message string) {
	line := marker
	if test != "" {
		line += " | " + test
	}
	if message != "" {
		line += " | " + message
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	for _, w := range s.writers {
		fmt.Fprintln(w, line)
	}
}

// Lines returns a copy of all lines appended so far, in order.
func (s *Stream) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// String returns the whole stream as one newline-joined string.
func (s *Stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.lines, "\n")
}

// Contains reports whether any line in the stream contains the substring.
func (s *Stream) Contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range s.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
