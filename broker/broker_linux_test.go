package broker

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/criyle/go-fdmap/pkg/unixsocket"
)

func runRequest(t *testing.T, s *Server, req *Request, fds []int) *Reply {
	t.Helper()
	ins, outs, err := unixsocket.NewSocketPair()
	if err != nil {
		t.Fatal("failed to create socket pair:", err)
	}
	done := make(chan struct{})
	go func() {
		s.Serve(ins)
		close(done)
	}()
	reply, err := NewClient(outs).Spawn(req, fds)
	if err != nil {
		t.Fatal("failed to run request:", err)
	}
	<-done
	return reply
}

func TestServer_Echo(t *testing.T) {
	reply := runRequest(t, new(Server), &Request{
		Args:          []string{"/bin/echo", "hello"},
		CaptureOutput: true,
	}, nil)
	if reply.Error != "" {
		t.Fatal("spawn failed:", reply.Error)
	}
	if reply.ExitStatus != 0 {
		t.Error("exit status: ", reply.ExitStatus)
	}
	if string(reply.Output) != "hello\n" {
		t.Errorf("output = %q, want hello", reply.Output)
	}
}

func TestServer_DonatedFd(t *testing.T) {
	const payload = "donated descriptor payload\n"
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal("failed to create pipe:", err)
	}
	defer r.Close()
	if _, err := w.WriteString(payload); err != nil {
		t.Fatal("failed to write payload:", err)
	}
	w.Close()

	reply := runRequest(t, new(Server), &Request{
		Args:          []string{"/bin/cat"},
		Targets:       []int{0},
		CaptureOutput: true,
	}, []int{int(r.Fd())})
	if reply.Error != "" {
		t.Fatal("spawn failed:", reply.Error)
	}
	if !bytes.Equal(reply.Output, []byte(payload)) {
		t.Errorf("output = %q, want payload", reply.Output)
	}
}

func TestServer_DuplicateTarget(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal("failed to create pipe:", err)
	}
	defer r.Close()
	defer w.Close()

	reply := runRequest(t, new(Server), &Request{
		Args:    []string{"/bin/true"},
		Targets: []int{3, 3},
	}, []int{int(r.Fd()), int(w.Fd())})
	if !strings.Contains(reply.Error, "duplicate target") {
		t.Errorf("error = %q, want duplicate target", reply.Error)
	}
}

func TestServer_TargetMismatch(t *testing.T) {
	reply := runRequest(t, new(Server), &Request{
		Args:    []string{"/bin/true"},
		Targets: []int{3},
	}, nil)
	if reply.Error == "" {
		t.Error("mismatched targets did not fail")
	}
}

func TestServer_ExitStatus(t *testing.T) {
	reply := runRequest(t, new(Server), &Request{
		Args: []string{"/bin/sh", "-c", "exit 3"},
	}, nil)
	if reply.Error != "" {
		t.Fatal("spawn failed:", reply.Error)
	}
	if reply.ExitStatus != 3 {
		t.Error("exit status: ", reply.ExitStatus)
	}
}

func TestServer_Signal(t *testing.T) {
	reply := runRequest(t, new(Server), &Request{
		Args: []string{"/bin/sh", "-c", "kill -KILL $$"},
	}, nil)
	if reply.ExitStatus != 128+9 {
		t.Error("exit status: ", reply.ExitStatus)
	}
	if !strings.Contains(reply.Error, "signal") {
		t.Errorf("error = %q, want signal", reply.Error)
	}
}

func TestServer_CloseStdio(t *testing.T) {
	reply := runRequest(t, new(Server), &Request{
		Args:          []string{"/bin/sh", "-c", "read x 2>/dev/null && echo open || echo closed"},
		CloseStdio:    true,
		CaptureOutput: true,
	}, nil)
	if reply.Error != "" {
		t.Fatal("spawn failed:", reply.Error)
	}
	if string(reply.Output) != "closed\n" {
		t.Errorf("output = %q, want closed", reply.Output)
	}
}

func TestServer_OutputLimit(t *testing.T) {
	s := &Server{OutputLimit: 8}
	reply := runRequest(t, s, &Request{
		Args:          []string{"/bin/echo", "0123456789abcdef"},
		CaptureOutput: true,
	}, nil)
	if reply.Error != "output size exceeded" {
		t.Errorf("error = %q, want output size exceeded", reply.Error)
	}
	if len(reply.Output) != 8 {
		t.Errorf("output length = %d, want 8", len(reply.Output))
	}
}

func TestServer_Env(t *testing.T) {
	s := &Server{Env: []string{"PROBE=server"}}
	reply := runRequest(t, s, &Request{
		Args:          []string{"/bin/sh", "-c", "echo $PROBE"},
		CaptureOutput: true,
	}, nil)
	if string(reply.Output) != "server\n" {
		t.Errorf("output = %q, want server", reply.Output)
	}

	reply = runRequest(t, s, &Request{
		Args:          []string{"/bin/sh", "-c", "echo $PROBE"},
		Env:           []string{"PROBE=request"},
		CaptureOutput: true,
	}, nil)
	if string(reply.Output) != "request\n" {
		t.Errorf("output = %q, want request", reply.Output)
	}
}

func TestServer_WorkDir(t *testing.T) {
	reply := runRequest(t, new(Server), &Request{
		Args:          []string{"/bin/sh", "-c", "pwd"},
		WorkDir:       "/",
		CaptureOutput: true,
	}, nil)
	if reply.Error != "" {
		t.Fatal("spawn failed:", reply.Error)
	}
	if string(reply.Output) != "/\n" {
		t.Errorf("output = %q, want /", reply.Output)
	}
}

func TestServer_Stats(t *testing.T) {
	s := new(Server)
	runRequest(t, s, &Request{Args: []string{"/bin/true"}}, nil)
	runRequest(t, s, &Request{Args: []string{"/bin/true"}, Targets: []int{3}}, nil)
	spawned, failed := s.Stats()
	if spawned != 1 || failed != 1 {
		t.Errorf("stats = %d/%d, want 1/1", spawned, failed)
	}
}
