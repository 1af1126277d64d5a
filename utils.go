package shelltest

import (
	"github.com/mozpauljt/shelltest/types"
)

// getResultString returns a colored string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	case types.TestStatusTodo:
		return "~ todo"
	default:
		return "✗ fail"
	}
}
