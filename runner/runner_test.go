package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozpauljt/shelltest/logging"
	"github.com/mozpauljt/shelltest/manifest"
	"github.com/mozpauljt/shelltest/types"
)

const (
	simplePassingTest = "exit 0\n"
	simpleFailingTest = "exit 1\n"
	simpleLoopingTest = "sleep 60\n"
)

// fixture mirrors the harness self-test setup: write script snippets and a
// manifest into a temp dir, run the harness against them with /bin/sh as
// the interpreter, and assert on counts and log content.
type fixture struct {
	t        *testing.T
	dir      string
	stream   *logging.Stream
	manifest string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fixture scripts require a POSIX shell")
	}
	return &fixture{
		t:      t,
		dir:    t.TempDir(),
		stream: logging.NewStream(),
	}
}

func (f *fixture) writeScript(name, contents string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(contents), 0755))
	return path
}

// writeManifest writes a manifest listing the given sections. Each section
// is the test name optionally followed by extra manifest lines.
func (f *fixture) writeManifest(sections ...[]string) {
	f.t.Helper()
	contents := "[DEFAULT]\nhead =\ntail =\n\n"
	for _, section := range sections {
		contents += "[" + section[0] + "]\n"
		for _, line := range section[1:] {
			contents += line + "\n"
		}
	}
	f.manifest = filepath.Join(f.dir, "shelltest.ini")
	require.NoError(f.t, os.WriteFile(f.manifest, []byte(contents), 0644))
}

func (f *fixture) run(mutate ...func(*Config)) (*RunResult, error) {
	f.t.Helper()
	m, err := manifest.Load(manifest.Config{Path: f.manifest})
	require.NoError(f.t, err)

	cfg := Config{
		Manifest:    m,
		Interpreter: "/bin/sh",
		Stream:      f.stream,
		TestTimeout: 30 * time.Second,
		Sequential:  true,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	r, err := NewRunner(cfg)
	if err != nil {
		return nil, err
	}
	return r.Run(context.Background())
}

func (f *fixture) mustRun(mutate ...func(*Config)) *RunResult {
	f.t.Helper()
	result, err := f.run(mutate...)
	require.NoError(f.t, err)
	return result
}

func requireStats(t *testing.T, result *RunResult, total, passed, failed, todo int) {
	t.Helper()
	assert.Equal(t, total, result.Stats.Total, "total")
	assert.Equal(t, passed, result.Stats.Passed, "passed")
	assert.Equal(t, failed, result.Stats.Failed, "failed")
	assert.Equal(t, todo, result.Stats.Todo, "todo")
}

func TestPass(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_basic.sh", simplePassingTest)
	f.writeManifest([]string{"test_basic.sh"})

	result := f.mustRun()
	assert.True(t, result.Passed())
	assert.Equal(t, types.TestStatusPass, result.Status)
	requireStats(t, result, 1, 1, 0, 0)
	assert.True(t, f.stream.Contains(logging.MarkerPass))
	assert.False(t, f.stream.Contains(logging.MarkerFail))
}

func TestFail(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_basic.sh", simpleFailingTest)
	f.writeManifest([]string{"test_basic.sh"})

	result := f.mustRun()
	assert.False(t, result.Passed())
	assert.Equal(t, types.TestStatusFail, result.Status)
	requireStats(t, result, 1, 0, 1, 0)
	assert.True(t, f.stream.Contains(logging.MarkerFail))
	assert.False(t, f.stream.Contains(logging.MarkerPass))
}

func TestPassFail(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_pass.sh", simplePassingTest)
	f.writeScript("test_fail.sh", simpleFailingTest)
	f.writeManifest([]string{"test_pass.sh"}, []string{"test_fail.sh"})

	result := f.mustRun()
	assert.False(t, result.Passed())
	requireStats(t, result, 2, 1, 1, 0)
	assert.True(t, f.stream.Contains(logging.MarkerPass))
	assert.True(t, f.stream.Contains(logging.MarkerFail))
}

func TestSkip(t *testing.T) {
	// A failing body behind skip-if = true must not run and must not
	// count as pass, fail or todo.
	f := newFixture(t)
	f.writeScript("test_basic.sh", simpleFailingTest)
	f.writeManifest([]string{"test_basic.sh", "skip-if = true"})

	result := f.mustRun()
	assert.True(t, result.Passed())
	requireStats(t, result, 1, 0, 0, 0)
	assert.Equal(t, 1, result.Stats.Skipped)
	assert.True(t, f.stream.Contains(logging.MarkerSkip))
	assert.False(t, f.stream.Contains(logging.MarkerFail))
	assert.False(t, f.stream.Contains(logging.MarkerPass))
}

func TestKnownFail(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_basic.sh", simpleFailingTest)
	f.writeManifest([]string{"test_basic.sh", "fail-if = true"})

	result := f.mustRun()
	assert.True(t, result.Passed())
	requireStats(t, result, 1, 0, 0, 1)
	assert.True(t, f.stream.Contains(logging.MarkerKnownFail))
	assert.False(t, f.stream.Contains(logging.MarkerFail))
	assert.False(t, f.stream.Contains(logging.MarkerPass))
}

func TestUnexpectedPass(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_basic.sh", simplePassingTest)
	f.writeManifest([]string{"test_basic.sh", "fail-if = true"})

	result := f.mustRun()
	assert.False(t, result.Passed())
	requireStats(t, result, 1, 0, 1, 0)
	assert.True(t, f.stream.Contains(logging.MarkerUnexpectedPass))
	assert.False(t, f.stream.Contains(logging.MarkerKnownFail))
}

func TestHangingTimeout(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_loop.sh", simpleLoopingTest)
	f.writeManifest([]string{"test_loop.sh"})

	start := time.Now()
	result := f.mustRun(func(cfg *Config) {
		cfg.TestTimeout = 250 * time.Millisecond
	})
	assert.Less(t, time.Since(start), 10*time.Second, "run must not hang")

	assert.False(t, result.Passed())
	requireStats(t, result, 1, 0, 1, 0)
	assert.True(t, f.stream.Contains(logging.MarkerTimeout))

	res := result.Tests["test_loop.sh"]
	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
}

func TestRandomExecution(t *testing.T) {
	f := newFixture(t)
	var sections [][]string
	for i := 0; i < 10; i++ {
		name := "test_pass_" + string(rune('0'+i)) + ".sh"
		f.writeScript(name, simplePassingTest)
		sections = append(sections, []string{name})
	}
	f.writeManifest(sections...)

	result := f.mustRun(func(cfg *Config) {
		cfg.Shuffle = true
		cfg.ShuffleSeed = 42
	})
	assert.True(t, result.Passed())
	requireStats(t, result, 10, 10, 0, 0)
}

func TestParallelExecution(t *testing.T) {
	f := newFixture(t)
	var sections [][]string
	for _, name := range []string{"test_a.sh", "test_b.sh", "test_c.sh", "test_d.sh"} {
		f.writeScript(name, simplePassingTest)
		sections = append(sections, []string{name})
	}
	f.writeScript("test_serial.sh", simplePassingTest)
	sections = append(sections, []string{"test_serial.sh", "run-sequentially = true"})
	f.writeManifest(sections...)

	result := f.mustRun(func(cfg *Config) {
		cfg.Sequential = false
		cfg.MaxParallel = 2
	})
	assert.True(t, result.Passed())
	requireStats(t, result, 5, 5, 0, 0)
}

func TestMissingHeadFile(t *testing.T) {
	// A missing head file is a configuration error that aborts the run
	// before any test process spawns; it is not a test failure.
	f := newFixture(t)
	f.writeScript("test_basic.sh", simplePassingTest)
	f.writeManifest([]string{"test_basic.sh", "head = missing.sh"})

	result, err := f.run()
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "head file")
	assert.Contains(t, err.Error(), "missing.sh")
	assert.False(t, f.stream.Contains(logging.MarkerFail))
}

func TestHeadAndTailRunInSameInvocation(t *testing.T) {
	f := newFixture(t)
	// An interpreter that sources every script argument into one shell,
	// the way head/test/tail share a single interpreter context.
	interp := f.writeScript("interp.sh", "#!/bin/sh\nfor f in \"$@\"; do\n  . \"$f\"\ndone\n")
	f.writeScript("head.sh", "GREETING=hello\n")
	f.writeScript("tail.sh", "echo \"tail ran\"\n")
	f.writeScript("test_uses_head.sh", "[ \"$GREETING\" = \"hello\" ] || exit 1\n")
	contents := "[DEFAULT]\nhead = head.sh\ntail = tail.sh\n\n[test_uses_head.sh]\n"
	f.manifest = filepath.Join(f.dir, "shelltest.ini")
	require.NoError(t, os.WriteFile(f.manifest, []byte(contents), 0644))

	result := f.mustRun(func(cfg *Config) {
		cfg.Interpreter = interp
	})
	assert.True(t, result.Passed())
	requireStats(t, result, 1, 1, 0, 0)
}

func TestCrashLogging(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_crashes.sh", "kill -SEGV $$\n")
	f.writeManifest([]string{"test_crashes.sh"})

	result := f.mustRun()
	assert.False(t, result.Passed())
	requireStats(t, result, 1, 0, 1, 0)
	assert.True(t, f.stream.Contains(logging.MarkerCrash))

	res := result.Tests["test_crashes.sh"]
	require.NotNil(t, res)
	assert.True(t, res.Crashed)
	assert.False(t, res.TimedOut)
}

func TestCrashStackSymbolication(t *testing.T) {
	f := newFixture(t)
	symDir := filepath.Join(f.dir, "symbols", "libwidget.so", "ID0")
	require.NoError(t, os.MkdirAll(symDir, 0755))
	sym := "MODULE Linux x86_64 ID0 libwidget.so\nFUNC 1000 200 0 widget_init\n"
	require.NoError(t, os.WriteFile(filepath.Join(symDir, "libwidget.so.sym"), []byte(sym), 0644))

	f.writeScript("test_crashes.sh", "echo '#00: ???[libwidget.so +0x1005]'\nkill -SEGV $$\n")
	f.writeManifest([]string{"test_crashes.sh"})

	result := f.mustRun(func(cfg *Config) {
		cfg.SymbolsPath = filepath.Join(f.dir, "symbols")
	})
	assert.False(t, result.Passed())
	assert.True(t, f.stream.Contains(logging.MarkerCrash))
	assert.True(t, f.stream.Contains("#00: widget_init [libwidget.so +0x1005]"))
	assert.False(t, f.stream.Contains("#00: ???["))
}

func TestChildPass(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_pass.sh", simplePassingTest)
	f.writeScript("test_child_pass.sh",
		"echo CHILD-TEST-STARTED\nsh \""+filepath.Join(f.dir, "test_pass.sh")+"\"\nstatus=$?\necho CHILD-TEST-COMPLETED\nexit $status\n")
	f.writeManifest([]string{"test_child_pass.sh"})

	result := f.mustRun(func(cfg *Config) {
		cfg.Verbose = true
	})
	assert.True(t, result.Passed())
	requireStats(t, result, 1, 1, 0, 0)
	assert.True(t, f.stream.Contains(logging.MarkerPass))
	assert.True(t, f.stream.Contains(logging.MarkerChildStarted))
	assert.True(t, f.stream.Contains(logging.MarkerChildCompleted))
	assert.False(t, f.stream.Contains(logging.MarkerFail))
}

func TestChildFail(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_fail.sh", simpleFailingTest)
	f.writeScript("test_child_fail.sh",
		"echo CHILD-TEST-STARTED\nsh \""+filepath.Join(f.dir, "test_fail.sh")+"\"\nstatus=$?\necho CHILD-TEST-COMPLETED\nexit $status\n")
	f.writeManifest([]string{"test_child_fail.sh"})

	result := f.mustRun()
	assert.False(t, result.Passed())
	requireStats(t, result, 1, 0, 1, 0)
	// Failure replays the child output even without verbose.
	assert.True(t, f.stream.Contains(logging.MarkerFail))
	assert.True(t, f.stream.Contains(logging.MarkerChildStarted))
	assert.True(t, f.stream.Contains(logging.MarkerChildCompleted))
	assert.False(t, f.stream.Contains(logging.MarkerPass))
}

func TestChildHang(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_child_hang.sh", "echo CHILD-TEST-STARTED\nsleep 60\necho CHILD-TEST-COMPLETED\n")
	f.writeManifest([]string{"test_child_hang.sh"})

	result := f.mustRun(func(cfg *Config) {
		cfg.TestTimeout = 250 * time.Millisecond
	})
	assert.False(t, result.Passed())
	assert.True(t, f.stream.Contains(logging.MarkerTimeout))
	assert.True(t, f.stream.Contains(logging.MarkerChildStarted))
	assert.False(t, f.stream.Contains(logging.MarkerChildCompleted))
}

func TestOutputSuppressedWhenQuiet(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_verbose.sh", "echo 'a message from info'\nexit 0\n")
	f.writeManifest([]string{"test_verbose.sh"})

	result := f.mustRun()
	assert.True(t, result.Passed())
	assert.False(t, f.stream.Contains("a message from info"))
}

func TestOutputShownWhenVerbose(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_verbose.sh", "echo 'a message from info'\nexit 0\n")
	f.writeManifest([]string{"test_verbose.sh"})

	result := f.mustRun(func(cfg *Config) {
		cfg.Verbose = true
	})
	assert.True(t, result.Passed())
	assert.True(t, f.stream.Contains("a message from info"))
}

func TestOutputShownWhenVerboseInManifest(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_verbose.sh", "echo 'a message from info'\nexit 0\n")
	f.writeManifest([]string{"test_verbose.sh", "verbose = true"})

	result := f.mustRun()
	assert.True(t, result.Passed())
	assert.True(t, f.stream.Contains("a message from info"))
}

func TestFailureCapturesOutput(t *testing.T) {
	f := newFixture(t)
	f.writeScript("test_fail.sh", "echo 'something went wrong'\nexit 1\n")
	f.writeManifest([]string{"test_fail.sh"})

	result := f.mustRun()
	res := result.Tests["test_fail.sh"]
	require.NotNil(t, res)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "something went wrong")
	assert.True(t, f.stream.Contains("something went wrong"))
}

func TestEnvironmentPropagation(t *testing.T) {
	// TESTING_MODULES_DIR is exported to the test process and the utility
	// binaries directory is prepended to PATH.
	f := newFixture(t)
	modulesDir := filepath.Join(f.dir, "modules")
	require.NoError(t, os.MkdirAll(modulesDir, 0755))
	utilityDir := filepath.Join(f.dir, "utility")
	require.NoError(t, os.MkdirAll(utilityDir, 0755))
	helper := filepath.Join(utilityDir, "shelltest-helper")
	require.NoError(t, os.WriteFile(helper, []byte("#!/bin/sh\necho helper output\n"), 0755))

	f.writeScript("test_env.sh",
		"[ \"$TESTING_MODULES_DIR\" = \""+modulesDir+"\" ] || exit 1\nshelltest-helper || exit 1\n")
	f.writeManifest([]string{"test_env.sh"})

	result := f.mustRun(func(cfg *Config) {
		cfg.TestingModulesDir = modulesDir
		cfg.UtilityPath = utilityDir
		cfg.Verbose = true
	})
	assert.True(t, result.Passed())
	requireStats(t, result, 1, 1, 0, 0)
	assert.True(t, f.stream.Contains("helper output"))
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(Config{})
	require.Error(t, err)

	f := newFixture(t)
	f.writeScript("test_basic.sh", simplePassingTest)
	f.writeManifest([]string{"test_basic.sh"})
	m, err := manifest.Load(manifest.Config{Path: f.manifest})
	require.NoError(t, err)

	_, err = NewRunner(Config{Manifest: m})
	require.Error(t, err, "interpreter is required")
}
