// Package scriptstore is a content-addressed store of compiled scripts,
// keyed by the SHA-256 of their canonical wire form. The same program
// always stores under the same hash, so a store doubles as a dedupe index.
package scriptstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kestreljs/kestrel/vm"
)

const fileExt = ".ksc"

// Store is a directory of scripts addressed by content hash, with an
// in-memory cache of everything loaded or stored through it.
type Store struct {
	mu    sync.RWMutex
	dir   string
	cache map[[32]byte]*vm.Script
}

// Open creates the store directory if needed and returns a handle to it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("scriptstore: cannot create %s: %w", dir, err)
	}
	return &Store{
		dir:   dir,
		cache: make(map[[32]byte]*vm.Script),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Put stores a script, returning its content hash. Storing the same script
// twice is a no-op.
func (s *Store) Put(script *vm.Script) ([32]byte, error) {
	h, err := vm.ContentHash(script)
	if err != nil {
		return [32]byte{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[h]; ok {
		return h, nil
	}

	path := s.path(h)
	if _, err := os.Stat(path); err == nil {
		s.cache[h] = script
		return h, nil
	}

	data, err := vm.MarshalScript(script)
	if err != nil {
		return [32]byte{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return [32]byte{}, fmt.Errorf("scriptstore: %w", err)
	}
	// Write-then-rename so a crashed write never leaves a torn entry.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return [32]byte{}, fmt.Errorf("scriptstore: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return [32]byte{}, fmt.Errorf("scriptstore: %w", err)
	}
	s.cache[h] = script
	return h, nil
}

// Get loads the script for the given hash. The stored bytes are re-hashed
// on load; a mismatch means on-disk corruption and is an error.
func (s *Store) Get(h [32]byte) (*vm.Script, error) {
	s.mu.RLock()
	if script, ok := s.cache[h]; ok {
		s.mu.RUnlock()
		return script, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("scriptstore: no script %s", FormatHash(h))
		}
		return nil, fmt.Errorf("scriptstore: %w", err)
	}
	script, err := vm.UnmarshalScript(data)
	if err != nil {
		return nil, fmt.Errorf("scriptstore: corrupt entry %s: %w", FormatHash(h), err)
	}
	actual, err := vm.ContentHash(script)
	if err != nil {
		return nil, err
	}
	if actual != h {
		return nil, fmt.Errorf("scriptstore: entry %s hashes to %s", FormatHash(h), FormatHash(actual))
	}

	s.mu.Lock()
	s.cache[h] = script
	s.mu.Unlock()
	return script, nil
}

// Has reports whether the store holds the given hash.
func (s *Store) Has(h [32]byte) bool {
	s.mu.RLock()
	if _, ok := s.cache[h]; ok {
		s.mu.RUnlock()
		return true
	}
	s.mu.RUnlock()
	_, err := os.Stat(s.path(h))
	return err == nil
}

// Hashes returns the content hashes of every stored script.
func (s *Store) Hashes() ([][32]byte, error) {
	var hashes [][32]byte
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, fileExt) {
			return err
		}
		h, perr := ParseHash(strings.TrimSuffix(filepath.Base(path), fileExt))
		if perr != nil {
			return nil // not a store entry
		}
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scriptstore: %w", err)
	}
	return hashes, nil
}

// path fans entries out over 256 subdirectories by leading hash byte.
func (s *Store) path(h [32]byte) string {
	hx := hex.EncodeToString(h[:])
	return filepath.Join(s.dir, hx[:2], hx+fileExt)
}

// FormatHash renders a content hash as lowercase hex.
func FormatHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses a 64-character hex content hash.
func ParseHash(s string) ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return h, fmt.Errorf("scriptstore: invalid hash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}
