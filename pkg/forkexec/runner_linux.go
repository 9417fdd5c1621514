package forkexec

import (
	"syscall"

	"github.com/criyle/go-fdmap/pkg/fdmap"
	"github.com/criyle/go-fdmap/pkg/rlimit"
)

// Runner is the configuration for the child process, including the exec
// path, argv and the descriptor remap plan replayed between fork and
// execve
type Runner struct {
	// argv and env for execve syscall for the child process
	Args []string
	Env  []string

	// if exec_fd is defined, then at the end, fd_execve is called
	ExecFile uintptr

	// Plan is the compiled descriptor remap replayed on the child
	// descriptor table right after fork. A nil plan leaves the
	// inherited table untouched.
	Plan *fdmap.Plan

	// POSIX Resource limit set by set rlimit
	RLimits []rlimit.RLimit

	// work path set by chdir(dir) (current working directory for child)
	WorkDir string

	// seccomp syscall filter applied to child
	Seccomp *syscall.SockFprog

	// Parent and child process sync status through a socket pair before
	// the final execve. SyncFunc will invoke with the child pid. If
	// SyncFunc return some error, parent will signal child to stop and
	// report the error
	SyncFunc func(int) error

	// no_new_privs calls prctl(PR_SET_NO_NEW_PRIVS) to disable calls to
	// setuid processes. It is automatically enabled when seccomp filter
	// is provided
	NoNewPrivs bool
}
