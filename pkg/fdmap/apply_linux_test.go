package fdmap

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

// no t.Parallel here, the tests below assert on process global
// descriptor numbers

func openPayload(t *testing.T, dir, name string) int {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(name), 0644); err != nil {
		t.Fatal(err)
	}
	fd, err := unix.Open(p, unix.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	return fd
}

func readPayload(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 64)
	n, err := unix.Pread(fd, buf, 0)
	if err != nil {
		t.Fatalf("pread %d: %v", fd, err)
	}
	return string(buf[:n])
}

func fdClosed(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == unix.EBADF
}

func TestSys_Swap(t *testing.T) {
	dir := t.TempDir()
	a := openPayload(t, dir, "payload-a")
	b := openPayload(t, dir, "payload-b")
	defer unix.Close(a)
	defer unix.Close(b)

	p := mustSet(t, []Mapping{{a, b}, {b, a}}, StdioPreserve).Plan()
	scratch := make([]int, p.TempCount)
	if err := p.apply(Sys(), scratch); err != nil {
		t.Fatal(err)
	}
	if got := readPayload(t, a); got != "payload-b" {
		t.Errorf("fd %d reads %q, want payload-b", a, got)
	}
	if got := readPayload(t, b); got != "payload-a" {
		t.Errorf("fd %d reads %q, want payload-a", b, got)
	}
	for _, temp := range scratch {
		if !fdClosed(temp) {
			t.Errorf("temporary %d still open", temp)
		}
	}
}

func TestSys_Rotate3(t *testing.T) {
	dir := t.TempDir()
	a := openPayload(t, dir, "payload-a")
	b := openPayload(t, dir, "payload-b")
	c := openPayload(t, dir, "payload-c")
	defer unix.Close(a)
	defer unix.Close(b)
	defer unix.Close(c)

	e := NewExecutor(mustSet(t, []Mapping{{a, b}, {b, c}, {c, a}}, StdioPreserve))
	if err := e.Apply(Sys()); err != nil {
		t.Fatal(err)
	}
	for fd, want := range map[int]string{a: "payload-c", b: "payload-a", c: "payload-b"} {
		if got := readPayload(t, fd); got != want {
			t.Errorf("fd %d reads %q, want %q", fd, got, want)
		}
	}
}

func TestSys_DupClosesSource(t *testing.T) {
	dir := t.TempDir()
	a := openPayload(t, dir, "payload-a")
	b := openPayload(t, dir, "payload-b")
	defer unix.Close(b)

	e := NewExecutor(mustSet(t, []Mapping{{a, b}}, StdioPreserve))
	if err := e.Apply(Sys()); err != nil {
		t.Fatal(err)
	}
	if got := readPayload(t, b); got != "payload-a" {
		t.Errorf("fd %d reads %q, want payload-a", b, got)
	}
	if !fdClosed(a) {
		t.Errorf("consumed source %d still open", a)
		unix.Close(a)
	}
}

func TestSys_ClearsCloexec(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "payload")
	if err := os.WriteFile(p, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}
	fd, err := unix.Open(p, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	e := NewExecutor(mustSet(t, []Mapping{{fd, fd}}, StdioPreserve))
	if err := e.Apply(Sys()); err != nil {
		t.Fatal(err)
	}
	flag, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		t.Fatal(err)
	}
	if flag&unix.FD_CLOEXEC != 0 {
		t.Errorf("close-on-exec still set on %d", fd)
	}
}

func TestSys_BadSource(t *testing.T) {
	dir := t.TempDir()
	a := openPayload(t, dir, "payload-a")
	defer unix.Close(a)
	bad := openPayload(t, dir, "payload-b")
	unix.Close(bad)

	err := NewExecutor(mustSet(t, []Mapping{{bad, a}}, StdioPreserve)).Apply(Sys())
	de, ok := err.(DupError)
	if !ok {
		t.Fatalf("Apply error = %v, want DupError", err)
	}
	if de.Source != bad || de.Target != a || de.Err != unix.EBADF {
		t.Errorf("DupError = %+v, want {%d %d EBADF}", de, bad, a)
	}
	if got := readPayload(t, a); got != "payload-a" {
		t.Errorf("fd %d reads %q after failed apply, want payload-a", a, got)
	}
}
