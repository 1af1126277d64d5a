// Package manifest loads INI test manifests and evaluates their per-entry
// run conditions against an environment info mapping.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/ini.v1"

	"github.com/mozpauljt/shelltest/types"
)

// DefaultSection is the manifest section holding shared settings, most
// importantly the head and tail script lists applied to every entry.
const DefaultSection = "DEFAULT"

// Manifest is an ordered collection of test entries read from one file.
type Manifest struct {
	Path string
	Dir  string

	entries []types.TestEntry
}

// Config contains manifest loading configuration.
type Config struct {
	Log log.Logger
	// Path of the manifest file.
	Path string
	// Info is the environment info mapping that skip-if and fail-if
	// expressions are evaluated against (os, arch, debug, ...).
	Info map[string]any
}

// Load reads a manifest file and returns its entries in file order, with
// skip-if/fail-if conditions already evaluated.
func Load(cfg Config) (*Manifest, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	opts := ini.LoadOptions{
		AllowShadows: true, // repeated skip-if/fail-if keys OR together
	}
	file, err := ini.LoadSources(opts, data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", cfg.Path, err)
	}

	dir := filepath.Dir(cfg.Path)
	m := &Manifest{
		Path: cfg.Path,
		Dir:  dir,
	}

	defaults := file.Section(DefaultSection)

	for _, name := range file.SectionStrings() {
		if name == DefaultSection {
			continue
		}
		section := file.Section(name)
		entry, err := m.buildEntry(name, section, defaults, cfg.Info)
		if err != nil {
			return nil, fmt.Errorf("manifest %s, section [%s]: %w", cfg.Path, name, err)
		}
		m.entries = append(m.entries, entry)
	}

	cfg.Log.Debug("Manifest loaded", "path", cfg.Path, "entries", len(m.entries))
	return m, nil
}

// Entries returns the test entries in manifest order.
func (m *Manifest) Entries() []types.TestEntry {
	return m.entries
}

// buildEntry converts one manifest section into a TestEntry. Keys set in the
// DEFAULT section apply to every entry: head/tail lists are prepended,
// condition keys OR with the entry's own occurrences, and the boolean keys
// act as fallbacks the entry's section can override.
func (m *Manifest) buildEntry(name string, section, defaults *ini.Section, info map[string]any) (types.TestEntry, error) {
	entry := types.TestEntry{
		Name:   name,
		Path:   filepath.Join(m.Dir, name),
		Reason: section.Key("reason").String(),
	}
	if entry.Reason == "" {
		entry.Reason = defaults.Key("reason").String()
	}

	heads := append(splitFileList(defaults.Key("head").String()), splitFileList(section.Key("head").String())...)
	tails := append(splitFileList(defaults.Key("tail").String()), splitFileList(section.Key("tail").String())...)
	entry.HeadFiles = m.resolve(heads)
	entry.TailFiles = m.resolve(tails)

	skip, err := anyConditionTrue(inheritedConditions(section, defaults, "skip-if"), info)
	if err != nil {
		return entry, fmt.Errorf("skip-if: %w", err)
	}
	entry.Skip = skip

	expectFail, err := anyConditionTrue(inheritedConditions(section, defaults, "fail-if"), info)
	if err != nil {
		return entry, fmt.Errorf("fail-if: %w", err)
	}
	entry.ExpectFail = expectFail

	entry.Verbose, err = inheritedBool(section, defaults, "verbose")
	if err != nil {
		return entry, err
	}
	entry.RunSequentially, err = inheritedBool(section, defaults, "run-sequentially")
	if err != nil {
		return entry, err
	}

	return entry, nil
}

// inheritedConditions collects every occurrence of a condition key from the
// DEFAULT section followed by the entry's own section.
func inheritedConditions(section, defaults *ini.Section, key string) []string {
	var values []string
	if defaults.HasKey(key) {
		values = append(values, defaults.Key(key).ValueWithShadows()...)
	}
	if section.HasKey(key) {
		values = append(values, section.Key(key).ValueWithShadows()...)
	}
	return values
}

// inheritedBool reads a boolean key from the entry's section, falling back to
// the DEFAULT section when the entry does not set it.
func inheritedBool(section, defaults *ini.Section, key string) (bool, error) {
	src := defaults
	if section.HasKey(key) {
		src = section
	}
	if !src.HasKey(key) {
		return false, nil
	}
	v, err := src.Key(key).Bool()
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// resolve turns manifest-relative file names into absolute paths.
func (m *Manifest) resolve(names []string) []string {
	var paths []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if filepath.IsAbs(name) {
			paths = append(paths, name)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, name))
	}
	return paths
}

// splitFileList splits a whitespace-separated list of file names.
func splitFileList(value string) []string {
	return strings.Fields(value)
}
