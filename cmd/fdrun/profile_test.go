package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/criyle/go-fdmap/pkg/seccomp"
)

func TestParseAction(t *testing.T) {
	if act, err := parseAction(""); err != nil || act != seccomp.ActionKill {
		t.Error("default action: ", act, err)
	}
	if act, err := parseAction("errno"); err != nil || act.Action() != seccomp.ActionErrno {
		t.Error("errno action: ", act, err)
	}
	if act, err := parseAction("allow"); err != nil || act != seccomp.ActionAllow {
		t.Error("allow action: ", act, err)
	}
	if _, err := parseAction("trace"); err == nil {
		t.Error("unknown action did not fail")
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yml")
	conf := `default: errno
allow:
  - read
  - write
  - execve
errno:
  - socket
`
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatal("failed to write profile:", err)
	}
	prog, err := loadProfile(path)
	if err != nil {
		t.Fatal("loadProfile failed:", err)
	}
	if prog == nil || prog.Filter == nil || prog.Len == 0 {
		t.Error("empty filter program")
	}

	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("default: trace\n"), 0644); err != nil {
		t.Fatal("failed to write profile:", err)
	}
	if _, err := loadProfile(bad); err == nil {
		t.Error("unknown default action did not fail")
	}

	if _, err := loadProfile(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("missing profile did not fail")
	}
}
