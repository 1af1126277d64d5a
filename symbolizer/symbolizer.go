// Package symbolizer resolves crash stack frames against a directory of
// breakpad text symbol files, so that crash logs show function names
// instead of raw module offsets.
package symbolizer

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// frameRe matches unresolved stack frames as printed by the interpreter's
// crash handler, e.g. "#01: ???[libwidget.so +0x1f2a]".
var frameRe = regexp.MustCompile(`#(\d+): \?\?\?\[(\S+) \+0x([0-9a-fA-F]+)\]`)

type funcRecord struct {
	addr uint64
	size uint64
	name string
}

// Symbolizer indexes FUNC records from every .sym file found under a
// symbols directory, keyed by module name.
type Symbolizer struct {
	modules map[string][]funcRecord
}

// New walks symbolsPath and parses every breakpad .sym file it finds.
// The conventional layout is <symbolsPath>/<module>/<build-id>/<module>.sym
// but any .sym file below the root is accepted.
func New(symbolsPath string) (*Symbolizer, error) {
	s := &Symbolizer{modules: make(map[string][]funcRecord)}

	err := filepath.WalkDir(symbolsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".sym") {
			return nil
		}
		return s.loadSymFile(path)
	})
	if err != nil {
		return nil, fmt.Errorf("reading symbols from %s: %w", symbolsPath, err)
	}

	for _, funcs := range s.modules {
		sort.Slice(funcs, func(i, j int) bool { return funcs[i].addr < funcs[j].addr })
	}
	return s, nil
}

// loadSymFile parses MODULE and FUNC records from one symbol file.
// The breakpad text format is line oriented:
//
//	MODULE <os> <arch> <id> <name>
//	FUNC [m] <address> <size> <param_size> <name>
func (s *Symbolizer) loadSymFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	module := strings.TrimSuffix(filepath.Base(path), ".sym")
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MODULE "):
			fields := strings.Fields(line)
			if len(fields) >= 5 {
				module = fields[4]
			}
		case strings.HasPrefix(line, "FUNC "):
			rec, ok := parseFuncRecord(line)
			if !ok {
				continue
			}
			s.modules[module] = append(s.modules[module], rec)
		}
	}
	return scanner.Err()
}

func parseFuncRecord(line string) (funcRecord, bool) {
	fields := strings.Fields(line)[1:]
	// Optional "m" marker between FUNC and the address.
	if len(fields) > 0 && fields[0] == "m" {
		fields = fields[1:]
	}
	if len(fields) < 4 {
		return funcRecord{}, false
	}
	addr, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return funcRecord{}, false
	}
	size, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		return funcRecord{}, false
	}
	// fields[2] is param_size; the rest is the (possibly spacey) name.
	return funcRecord{addr: addr, size: size, name: strings.Join(fields[3:], " ")}, true
}

// Resolve returns the function name containing offset within module, or
// false when no symbol covers it.
func (s *Symbolizer) Resolve(module string, offset uint64) (string, bool) {
	funcs := s.modules[module]
	if len(funcs) == 0 {
		return "", false
	}
	i := sort.Search(len(funcs), func(i int) bool { return funcs[i].addr > offset })
	if i == 0 {
		return "", false
	}
	rec := funcs[i-1]
	if rec.size > 0 && offset >= rec.addr+rec.size {
		return "", false
	}
	return rec.name, true
}

// FixStackFrames rewrites every unresolved frame in output whose module and
// offset are covered by the loaded symbols. Frames that cannot be resolved
// are left untouched.
func (s *Symbolizer) FixStackFrames(output string) string {
	return frameRe.ReplaceAllStringFunc(output, func(frame string) string {
		parts := frameRe.FindStringSubmatch(frame)
		offset, err := strconv.ParseUint(parts[3], 16, 64)
		if err != nil {
			return frame
		}
		name, ok := s.Resolve(parts[2], offset)
		if !ok {
			return frame
		}
		return fmt.Sprintf("#%s: %s [%s +0x%s]", parts[1], name, parts[2], parts[3])
	})
}
