// Package config loads objdb.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"objcore/internal/diag"
)

// FileName is the configuration file looked up from the working directory.
const FileName = "objdb.toml"

// Engine configures container resolution and format policy.
type Engine struct {
	SearchPaths     []string `toml:"search_paths"`
	Extension       string   `toml:"extension"`
	MinVersion      uint16   `toml:"min_version"`
	LicenseeVersion uint16   `toml:"licensee_version"`
	ByteSwap        bool     `toml:"byte_swap"`
	Schema          []string `toml:"schema"`
	ForEdit         bool     `toml:"for_edit"`
	// Prefetch reads whole container files in the background while the
	// summary is parsed.
	Prefetch        bool     `toml:"prefetch"`
}

// Diagnostics bounds the diagnostics bag.
type Diagnostics struct {
	Max    int    `toml:"max"`
	// FailOn is the lowest severity that fails verify.
	FailOn string `toml:"fail_on"`
}

// GC configures the collector.
type GC struct {
	Strict bool `toml:"strict"`
}

// Trace mirrors trace.Config in string form.
type Trace struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Output   string `toml:"output"`
	Format   string `toml:"format"`
	// RingSize is the number of events the ring sink keeps; 0 means
	// trace.DefaultRingSize.
	RingSize int    `toml:"ring_size"`
}

// Config is the decoded file plus where it came from.
type Config struct {
	Engine      Engine      `toml:"engine"`
	Diagnostics Diagnostics `toml:"diagnostics"`
	GC          GC          `toml:"gc"`
	Trace       Trace       `toml:"trace"`

	// Path of the file the config was read from; empty for defaults.
	Path string `toml:"-"`
}

var ErrBadExtension = errors.New("engine.extension must start with '.'")

// Default returns the configuration used when no objdb.toml exists.
func Default() Config {
	return Config{
		Engine: Engine{
			SearchPaths: []string{"."},
			Extension:   ".pkg",
			MinVersion:  60,
		},
		Diagnostics: Diagnostics{Max: 100, FailOn: "error"},
		Trace:       Trace{Level: "off", Mode: "stream", Output: "-", Format: "text"},
	}
}

// Find walks up from startDir to locate objdb.toml.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load decodes path over the defaults. Keys absent from the file keep their
// default values; relative search and schema paths are made relative to the
// file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("engine", "extension") && !strings.HasPrefix(cfg.Engine.Extension, ".") {
		return Config{}, fmt.Errorf("%s: %w", path, ErrBadExtension)
	}
	if _, err := diag.ParseSeverity(cfg.Diagnostics.FailOn); err != nil {
		return Config{}, fmt.Errorf("%s: diagnostics.fail_on: %w", path, err)
	}
	if !meta.IsDefined("engine", "search_paths") || len(cfg.Engine.SearchPaths) == 0 {
		cfg.Engine.SearchPaths = []string{"."}
	}
	base := filepath.Dir(path)
	cfg.Engine.SearchPaths = anchor(base, cfg.Engine.SearchPaths)
	cfg.Engine.Schema = anchor(base, cfg.Engine.Schema)
	cfg.Path = path
	return cfg, nil
}

// Discover finds and loads objdb.toml above startDir, falling back to
// Default when there is none.
func Discover(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

func anchor(base string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		if filepath.IsAbs(p) {
			out[i] = p
			continue
		}
		out[i] = filepath.Join(base, p)
	}
	return out
}
