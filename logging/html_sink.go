package logging

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mozpauljt/shelltest/types"
)

const htmlReportFilename = "results.html"

var htmlReportTemplate = template.Must(template.New("results").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>shelltest results {{.RunID}}</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
tr.pass td.status { color: #060; }
tr.fail td.status { color: #a00; font-weight: bold; }
tr.skip td.status { color: #888; }
tr.todo td.status { color: #a60; }
</style>
</head>
<body>
<h1>Test run {{.RunID}}</h1>
<p>total {{.Stats.Total}}, passed {{.Stats.Passed}}, failed {{.Stats.Failed}}, todo {{.Stats.Todo}}, skipped {{.Stats.Skipped}}</p>
<table>
<tr><th>Test</th><th>Status</th><th>Duration</th><th>Detail</th></tr>
{{range .Rows}}<tr class="{{.Status}}"><td>{{.Name}}</td><td class="status">{{.Status}}</td><td>{{.Duration}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// HTMLSink writes a single-page HTML report of the run into the log
// directory when the run completes.
type HTMLSink struct {
	dir string

	mu   sync.Mutex
	rows []htmlRow
}

type htmlRow struct {
	Name     string
	Status   types.TestStatus
	Duration time.Duration
	Detail   string
}

// NewHTMLSink creates an HTML report sink writing into dir.
func NewHTMLSink(dir string) *HTMLSink {
	return &HTMLSink{dir: dir}
}

func (h *HTMLSink) Consume(result *types.TestResult, runID string) error {
	detail := ""
	if result.Error != nil {
		detail = result.Error.Error()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, htmlRow{
		Name:     result.Entry.ID(),
		Status:   result.Status,
		Duration: result.Duration.Round(time.Millisecond),
		Detail:   detail,
	})
	return nil
}

func (h *HTMLSink) Complete(runID string, stats types.RunStats) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Create(filepath.Join(h.dir, htmlReportFilename))
	if err != nil {
		return fmt.Errorf("creating HTML report: %w", err)
	}
	defer f.Close()

	data := struct {
		RunID string
		Stats types.RunStats
		Rows  []htmlRow
	}{runID, stats, h.rows}
	return htmlReportTemplate.Execute(f, data)
}

var _ ResultSink = &HTMLSink{}
