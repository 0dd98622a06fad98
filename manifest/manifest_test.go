package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[project]
name = "test-app"
version = "0.1.0"

[source]
dirs = ["scripts", "lib"]
entry = "app.js"

[run]
instruction-limit = 50000

[store]
dir = "build/store"
`
	if err := os.WriteFile(filepath.Join(dir, "kestrel.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Source.Dirs) != 2 {
		t.Errorf("source dirs count = %d, want 2", len(m.Source.Dirs))
	}
	if m.Source.Entry != "app.js" {
		t.Errorf("source entry = %q, want app.js", m.Source.Entry)
	}
	if m.Run.InstructionLimit != 50000 {
		t.Errorf("instruction limit = %d, want 50000", m.Run.InstructionLimit)
	}
	if m.StoreDir() != filepath.Join(m.Dir, "build", "store") {
		t.Errorf("store dir = %q, want %q", m.StoreDir(), filepath.Join(m.Dir, "build", "store"))
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[project]
name = "minimal"
`
	if err := os.WriteFile(filepath.Join(dir, "kestrel.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Source.Dirs) != 1 || m.Source.Dirs[0] != "src" {
		t.Errorf("default source dirs = %v, want [src]", m.Source.Dirs)
	}
	if m.Source.Entry != "main.js" {
		t.Errorf("default entry = %q, want main.js", m.Source.Entry)
	}
	if m.Run.InstructionLimit != 0 {
		t.Errorf("default instruction limit = %d, want 0", m.Run.InstructionLimit)
	}
	if m.StoreDir() != filepath.Join(m.Dir, ".kestrel", "store") {
		t.Errorf("default store dir = %q", m.StoreDir())
	}
}

func TestLoadManifestNegativeLimit(t *testing.T) {
	dir := t.TempDir()
	tomlContent := `
[run]
instruction-limit = -5
`
	if err := os.WriteFile(filepath.Join(dir, "kestrel.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for negative instruction-limit")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `[project]
name = "found-project"
`
	if err := os.WriteFile(filepath.Join(dir, "kestrel.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no kestrel.toml exists")
	}
}

func TestEntryPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "lib"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lib", "app.js"), []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}
	tomlContent := `
[source]
dirs = ["src", "lib"]
entry = "app.js"
`
	if err := os.WriteFile(filepath.Join(dir, "kestrel.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := filepath.Join(m.Dir, "lib", "app.js")
	if m.EntryPath() != want {
		t.Errorf("EntryPath = %q, want %q", m.EntryPath(), want)
	}
}

func TestSourceDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Source: Source{
			Dirs: []string{"src", "lib"},
		},
	}

	paths := m.SourceDirPaths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0] != "/app/src" {
		t.Errorf("paths[0] = %q, want /app/src", paths[0])
	}
	if paths[1] != "/app/lib" {
		t.Errorf("paths[1] = %q, want /app/lib", paths[1])
	}
}
