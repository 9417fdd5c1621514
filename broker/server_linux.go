package broker

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/criyle/go-fdmap/pkg/fdmap"
	"github.com/criyle/go-fdmap/pkg/forkexec"
	"github.com/criyle/go-fdmap/pkg/pipe"
	"github.com/criyle/go-fdmap/pkg/rlimit"
	"github.com/criyle/go-fdmap/pkg/unixsocket"
)

// default upper bound for captured output
const defaultOutputLimit = 64 << 10

// Server spawns commands with donated descriptors remapped into place.
// The zero value is usable; fields customize the defaults applied to
// every request.
type Server struct {
	Env         []string    // environment for commands whose request carries none
	CloseStdio  bool        // always close unmapped stdio in spawned commands
	OutputLimit rlimit.Size // bound for captured output, 64k when zero

	spawned atomic.Int64
	failed  atomic.Int64
}

// Serve handles a single donation request on the socket and closes it
// when done. It is safe to call from multiple goroutines on different
// sockets.
func (s *Server) Serve(soc *unixsocket.Socket) {
	defer soc.Close()
	if err := soc.SetPassCred(1); err != nil {
		logrus.WithError(err).Error("serve: failed to set pass cred")
		return
	}
	sk := newSocket(soc)

	var req Request
	msg, err := sk.RecvMsg(&req)
	if err != nil {
		logrus.WithError(err).Error("serve: failed to receive request")
		return
	}
	// donated descriptors arrive without close_on_exec and must not
	// leak into children spawned for other requests
	for _, fd := range msg.Fds {
		syscall.CloseOnExec(fd)
	}

	log := logrus.WithFields(logrus.Fields{
		"args":    req.Args,
		"targets": req.Targets,
	})
	if msg.Cred != nil {
		log = log.WithField("peer", msg.Cred.Pid)
	}

	reply := s.spawn(&req, msg.Fds)
	// the child owns its remapped copies, ours are closed before the
	// reply regardless of outcome
	closeFds(msg.Fds)
	if reply.Error != "" {
		s.failed.Inc()
		log.WithField("error", reply.Error).Info("spawn failed")
	} else {
		s.spawned.Inc()
		log.WithField("exit_status", reply.ExitStatus).Debug("spawn finished")
	}

	if err := sk.SendMsg(reply, unixsocket.Msg{}); err != nil {
		logrus.WithError(err).Error("serve: failed to send reply")
	}
}

// Stats reports how many requests spawned successfully and how many
// failed since the server started.
func (s *Server) Stats() (spawned, failed int64) {
	return s.spawned.Load(), s.failed.Load()
}

func (s *Server) spawn(req *Request, fds []int) *Reply {
	if len(fds) != len(req.Targets) {
		return &Reply{Error: fmt.Sprintf("spawn: %d descriptors donated for %d targets", len(fds), len(req.Targets))}
	}
	if len(req.Args) == 0 {
		return &Reply{Error: "spawn: empty argv"}
	}

	maps := make([]fdmap.Mapping, 0, len(fds)+2)
	for i, fd := range fds {
		maps = append(maps, fdmap.Mapping{Source: fd, Target: req.Targets[i]})
	}

	var out *pipe.Buffer
	if req.CaptureOutput {
		limit := int64(s.OutputLimit)
		if limit == 0 {
			limit = defaultOutputLimit
		}
		b, err := pipe.NewBuffer(limit)
		if err != nil {
			return &Reply{Error: errors.Wrap(err, "spawn: failed to create output pipe").Error()}
		}
		defer b.W.Close()
		for _, n := range []int{1, 2} {
			if !hasTarget(req.Targets, n) {
				maps = append(maps, fdmap.Mapping{Source: int(b.W.Fd()), Target: n})
			}
		}
		out = b
	}

	stdio := fdmap.StdioPreserve
	if req.CloseStdio || s.CloseStdio {
		stdio = fdmap.StdioClose
	}
	set, err := fdmap.New(maps, stdio)
	if err != nil {
		return &Reply{Error: errors.Wrap(err, "spawn").Error()}
	}

	env := req.Env
	if len(env) == 0 {
		env = s.Env
	}
	r := forkexec.Runner{
		Args:    req.Args,
		Env:     env,
		Plan:    set.Plan(),
		WorkDir: req.WorkDir,
	}
	pid, err := r.Start()
	if err != nil {
		return &Reply{Error: errors.Wrap(err, "spawn").Error()}
	}
	if out != nil {
		// the child holds its own copy now; close ours so the collector
		// sees eof when the child exits
		out.W.Close()
	}

	var reply Reply
	var ws syscall.WaitStatus
	_, err = syscall.Wait4(pid, &ws, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &ws, 0, nil)
	}
	switch {
	case err != nil:
		reply.Error = errors.Wrap(err, "spawn: wait4").Error()
	case ws.Exited():
		reply.ExitStatus = ws.ExitStatus()
	case ws.Signaled():
		reply.ExitStatus = 128 + int(ws.Signal())
		reply.Error = "signal: " + ws.Signal().String()
	}

	if out != nil {
		<-out.Done
		if out.Buffer.Len() > int(out.Max) {
			reply.Output = out.Buffer.Bytes()[:out.Max]
			if reply.Error == "" {
				reply.Error = "output size exceeded"
			}
		} else {
			reply.Output = out.Buffer.Bytes()
		}
	}
	return &reply
}

func hasTarget(targets []int, n int) bool {
	for _, t := range targets {
		if t == n {
			return true
		}
	}
	return false
}

func closeFds(fds []int) {
	for _, fd := range fds {
		syscall.Close(fd)
	}
}
