package shelltest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/mozpauljt/shelltest/runner"
	"github.com/mozpauljt/shelltest/types"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	FormatResults(result *runner.RunResult) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
	}
}

// FormatResults formats and displays the test results.
func (f *ConsoleResultFormatter) FormatResults(result *runner.RunResult) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Test Run Results (%s)", runner.FormatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Test", "Duration", "Exit", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	// Stable display order regardless of execution order
	names := make([]string, 0, len(result.Tests))
	for name := range result.Tests {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		test := result.Tests[name]

		exit := fmt.Sprintf("%d", test.ExitCode)
		if test.Status == types.TestStatusSkip {
			exit = "-"
		}

		t.AppendRow(table.Row{
			name,
			runner.FormatDuration(test.Duration),
			exit,
			getResultString(test.Status),
			extractKeyErrorMessage(test.Error),
		})
	}
	t.AppendSeparator()

	// Update the table style setting based on result status
	if result.Status == types.TestStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else if result.Status == types.TestStatusSkip {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("TOTAL: %d (todo: %d, skipped: %d)",
			result.Stats.Total, result.Stats.Todo, result.Stats.Skipped),
		runner.FormatDuration(result.Duration),
		"",
		getResultString(result.Status),
		"",
	})

	t.Render()

	fmt.Println(result.String())

	return nil
}

// extractKeyErrorMessage extracts the most pertinent part of the error message for display
func extractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// If we can't show everything, limit to the first line or 80 chars
	if idx := strings.Index(errStr, "\n"); idx != -1 {
		return errStr[:idx]
	} else if len(errStr) > 80 {
		return errStr[:70] + "..."
	}

	return errStr
}
