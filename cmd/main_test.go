package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shelltest "github.com/mozpauljt/shelltest"
	"github.com/mozpauljt/shelltest/exitcodes"
)

// TestExitCodeForError verifies the documented exit code mapping:
// 1 for test failures and unspecified errors, 2 for runtime errors.
func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, exitcodes.RuntimeErr,
		exitCodeForError(shelltest.NewRuntimeError(errors.New("bad manifest"))))
	assert.Equal(t, exitcodes.TestFailure,
		exitCodeForError(shelltest.NewTestFailureError("2 tests failed")))
	assert.Equal(t, exitcodes.TestFailure,
		exitCodeForError(errors.New("some other error")))
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "trace", "debug", "info", "warn", "error", "crit", "INFO"} {
		logger, err := newLogger(level)
		require.NoError(t, err, "level %q", level)
		require.NotNil(t, logger)
	}

	_, err := newLogger("loud")
	require.Error(t, err)
}
