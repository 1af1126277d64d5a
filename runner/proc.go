package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mozpauljt/shelltest/logging"
	"github.com/mozpauljt/shelltest/types"
)

// procResult is the raw outcome of one interpreter invocation, before the
// expectation logic (fail-if and friends) is applied.
type procResult struct {
	exitCode    int
	startErr    error
	crashed     bool
	crashDetail string
	timedOut    bool
	output      string
	duration    time.Duration
}

// execute spawns the interpreter for one entry and waits for it, enforcing
// the context deadline. On timeout the whole process tree is terminated so
// nested child-test processes cannot outlive their test.
func (r *runner) execute(ctx context.Context, entry types.TestEntry) procResult {
	cmd := r.buildCommand(entry)

	tail := newTailBuffer(0)
	cmd.Stdout = tail
	cmd.Stderr = tail

	r.log.Debug("Running test command",
		"test", entry.ID(),
		"command", cmd.String(),
		"dir", cmd.Dir,
		"timeout", r.cfg.TestTimeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return procResult{startErr: err, duration: time.Since(start)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		res := procResult{
			output:   string(tail.Bytes()),
			duration: time.Since(start),
		}
		res.exitCode = cmd.ProcessState.ExitCode()
		if err != nil && res.exitCode == -1 {
			// Terminated by a signal the harness did not send.
			res.crashed = true
			res.crashDetail = cmd.ProcessState.String()
		}
		return res

	case <-ctx.Done():
		terminateProcessTree(r.log, cmd.Process.Pid)
		<-done
		return procResult{
			exitCode: -1,
			timedOut: ctx.Err() == context.DeadlineExceeded,
			output:   string(tail.Bytes()),
			duration: time.Since(start),
		}
	}
}

// buildCommand constructs the interpreter invocation for an entry:
// head files, then the test script, then tail files, each optionally
// preceded by the configured file flag.
func (r *runner) buildCommand(entry types.TestEntry) *exec.Cmd {
	var args []string
	appendScript := func(path string) {
		if r.cfg.FileFlag != "" {
			args = append(args, r.cfg.FileFlag)
		}
		args = append(args, path)
	}
	for _, head := range entry.HeadFiles {
		appendScript(head)
	}
	appendScript(entry.Path)
	for _, tail := range entry.TailFiles {
		appendScript(tail)
	}

	cmd := exec.Command(r.cfg.Interpreter, args...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = r.buildEnv()
	return cmd
}

// buildEnv assembles the test process environment.
func (r *runner) buildEnv() []string {
	env := os.Environ()
	if r.cfg.TestingModulesDir != "" {
		env = append(env, "TESTING_MODULES_DIR="+r.cfg.TestingModulesDir)
	}
	if r.cfg.UtilityPath != "" {
		env = append(env, "PATH="+r.cfg.UtilityPath+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	return env
}

// terminateProcessTree kills a process and all of its descendants,
// children first. cmd.Process.Kill alone would orphan nested child-test
// processes spawned by the interpreter.
func terminateProcessTree(logger log.Logger, pid int) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	for _, child := range descendants(proc) {
		if err := child.Kill(); err != nil {
			logger.Debug("Failed to kill child process", "pid", child.Pid, "error", err)
		}
	}
	if err := proc.Kill(); err != nil {
		logger.Debug("Failed to kill test process", "pid", pid, "error", err)
	}
}

// descendants returns the transitive children of a process, leaves first.
func descendants(proc *process.Process) []*process.Process {
	children, err := proc.Children()
	if err != nil {
		return nil
	}
	var all []*process.Process
	for _, child := range children {
		all = append(all, descendants(child)...)
		all = append(all, child)
	}
	return all
}

// replayOutput dumps captured interpreter output into the log stream,
// bracketed the way the harness has always done it.
func (r *runner) replayOutput(name, output string) {
	r.stream.Append(logging.MarkerInfo, name, ">>>>>>>")
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		r.stream.Append(logging.MarkerProcessOutput, name, line)
	}
	r.stream.Append(logging.MarkerInfo, name, "<<<<<<<")
}

// FormatDuration formats the duration to seconds with 1 decimal place.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
