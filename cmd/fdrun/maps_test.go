package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/criyle/go-fdmap/pkg/fdmap"
)

func TestParseDup(t *testing.T) {
	m, err := parseDup("4=3")
	if err != nil {
		t.Fatal("parseDup failed:", err)
	}
	if m != (fdmap.Mapping{Source: 3, Target: 4}) {
		t.Error("mapping: ", m)
	}
	for _, s := range []string{"", "4", "x=3", "4=x", "="} {
		if _, err := parseDup(s); err == nil {
			t.Errorf("parseDup(%q) did not fail", s)
		}
	}
}

func TestParseOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal("failed to write file:", err)
	}

	m, f, err := parseOpen("3=" + path)
	if err != nil {
		t.Fatal("parseOpen failed:", err)
	}
	defer f.Close()
	if m.Target != 3 || m.Source != int(f.Fd()) {
		t.Error("mapping: ", m)
	}
	if _, err := f.WriteString("x"); err == nil {
		t.Error("default mode is not read only")
	}

	out := filepath.Join(dir, "out")
	m, wf, err := parseOpen("1=" + out + ":wo")
	if err != nil {
		t.Fatal("parseOpen failed:", err)
	}
	defer wf.Close()
	if m.Target != 1 {
		t.Error("mapping: ", m)
	}
	if _, err := wf.WriteString("probe"); err != nil {
		t.Error("write failed:", err)
	}

	if _, _, err := parseOpen("x=" + path); err == nil {
		t.Error("invalid target did not fail")
	}
	if _, _, err := parseOpen(path); err == nil {
		t.Error("missing target did not fail")
	}
	if _, _, err := parseOpen("3=" + filepath.Join(dir, "missing")); err == nil {
		t.Error("missing file did not fail")
	}
}
