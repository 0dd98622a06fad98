// Package manifest handles kestrel.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked for in a project directory.
const FileName = "kestrel.toml"

// Manifest represents a kestrel.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	Run     Run     `toml:"run"`
	Store   Store   `toml:"store"`

	// Dir is the directory containing the kestrel.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures script file locations.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Run configures script execution.
type Run struct {
	// InstructionLimit bounds each run to that many instructions.
	// Zero means unlimited.
	InstructionLimit int64 `toml:"instruction-limit"`
}

// Store configures the compiled-script store.
type Store struct {
	Dir string `toml:"dir"`
}

// Load parses a kestrel.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"src"}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.js"
	}
	if m.Run.InstructionLimit < 0 {
		return nil, fmt.Errorf("%s: run.instruction-limit must not be negative", path)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a kestrel.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// EntryPath returns the absolute path of the entry script. A relative entry
// is resolved against each source directory in order; the first existing
// file wins, defaulting to the first source directory when none exists yet.
func (m *Manifest) EntryPath() string {
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	for _, d := range m.SourceDirPaths() {
		p := filepath.Join(d, m.Source.Entry)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(m.Dir, m.Source.Dirs[0], m.Source.Entry)
}

// StoreDir returns the path of the compiled-script store.
func (m *Manifest) StoreDir() string {
	if m.Store.Dir != "" {
		if filepath.IsAbs(m.Store.Dir) {
			return m.Store.Dir
		}
		return filepath.Join(m.Dir, m.Store.Dir)
	}
	return filepath.Join(m.Dir, ".kestrel", "store")
}
