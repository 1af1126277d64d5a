package types

// TestEntry is one test listed in a manifest, with its run conditions
// already evaluated against the environment info mapping.
type TestEntry struct {
	// Name is the manifest section name, normally the script filename.
	Name string
	// Path is the absolute path of the test script.
	Path string
	// HeadFiles and TailFiles are scripts run before and after the test
	// body in the same interpreter invocation, resolved to absolute paths.
	HeadFiles []string
	TailFiles []string

	// Skip marks the entry as excluded by a skip-if condition.
	Skip bool
	// ExpectFail marks the entry as known-fail: a failing body is the
	// expected outcome (todo), a passing body is an unexpected pass.
	ExpectFail bool
	// Verbose forces interpreter output to be replayed into the log even
	// when the entry passes and the run is not verbose.
	Verbose bool
	// RunSequentially excludes the entry from parallel execution.
	RunSequentially bool
	// Reason is the optional human-readable justification for skip-if or
	// fail-if, carried into the log.
	Reason string
}

// ID returns a stable identifier for the entry.
func (e TestEntry) ID() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Path
}
