package scriptstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kestreljs/kestrel/compiler"
	"github.com/kestreljs/kestrel/vm"
)

func testScript(t *testing.T, src string) *vm.Script {
	t.Helper()
	script, err := compiler.Compile("store_test.js", src)
	if err != nil {
		t.Fatal(err)
	}
	return script
}

func TestPutGet(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	script := testScript(t, "1 + 2;")

	h, err := st.Put(script)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Has(h) {
		t.Error("Has reports false after Put")
	}

	got, err := st.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	m := vm.New()
	v, err := m.RunScript(got, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 3 {
		t.Errorf("stored script returned %v, want 3", v.Num())
	}
}

func TestPutDedupes(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h1, err := st.Put(testScript(t, "var x = 5; x;"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := st.Put(testScript(t, "var x = 5; x;"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("identical scripts stored under different hashes")
	}
	hashes, err := st.Hashes()
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 1 {
		t.Errorf("store holds %d entries, want 1", len(hashes))
	}
}

func TestGetSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, err := st.Put(testScript(t, "'persisted';"))
	if err != nil {
		t.Fatal(err)
	}

	// A fresh handle reads from disk, not the cache.
	st2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !st2.Has(h) {
		t.Fatal("reopened store does not see the entry")
	}
	script, err := st2.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	m := vm.New()
	v, err := m.RunScript(script, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.GoString(v) != "persisted" {
		t.Errorf("got %q", m.GoString(v))
	}
}

func TestGetMissing(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var h [32]byte
	h[0] = 0xAB
	if _, err := st.Get(h); err == nil {
		t.Error("missing hash did not error")
	}
	if st.Has(h) {
		t.Error("Has reports true for a missing hash")
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	h, err := st.Put(testScript(t, "42;"))
	if err != nil {
		t.Fatal(err)
	}

	// Flip the entry's bytes on disk and read through a cold store.
	hx := FormatHash(h)
	path := filepath.Join(dir, hx[:2], hx+fileExt)
	if err := os.WriteFile(path, []byte("not cbor"), 0o644); err != nil {
		t.Fatal(err)
	}
	st2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st2.Get(h); err == nil {
		t.Error("corrupt entry did not error")
	}
}

func TestHashes(t *testing.T) {
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := make(map[[32]byte]bool)
	for _, src := range []string{"1;", "2;", "3;"} {
		h, err := st.Put(testScript(t, src))
		if err != nil {
			t.Fatal(err)
		}
		want[h] = true
	}
	hashes, err := st.Hashes()
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != len(want) {
		t.Fatalf("got %d hashes, want %d", len(hashes), len(want))
	}
	for _, h := range hashes {
		if !want[h] {
			t.Errorf("unexpected hash %s", FormatHash(h))
		}
	}
}

func TestFormatParseHash(t *testing.T) {
	var h [32]byte
	for i := range h {
		h[i] = byte(i)
	}
	s := FormatHash(h)
	if len(s) != 64 {
		t.Fatalf("formatted hash has length %d", len(s))
	}
	back, err := ParseHash(s)
	if err != nil {
		t.Fatal(err)
	}
	if back != h {
		t.Error("hash round trip failed")
	}

	if _, err := ParseHash("zz"); err == nil {
		t.Error("bad hex accepted")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("short hash accepted")
	}
}
