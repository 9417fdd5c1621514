package forkexec

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/criyle/go-fdmap/pkg/fdmap"
)

// Reference to src/syscall/exec_linux.go
//
//go:norace
func forkAndExecInChild(r *Runner, argv0 *byte, argv, env []*byte, workdir *byte, scratch []int, p [2]int) (r1 uintptr, err1 syscall.Errno) {
	// hoist the plan fields so the child only touches locals
	var (
		ops     []fdmap.Op
		tempMin int
	)
	if r.Plan != nil {
		ops = r.Plan.Ops
		tempMin = r.Plan.TempMin
	}

	// Acquire the fork lock so that no other threads
	// create new fds that are not yet close-on-exec
	// before we fork.
	syscall.ForkLock.Lock()

	// About to call fork.
	// No more allocation or calls of non-assembly functions.
	beforeFork()

	r1, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if err1 != 0 || r1 != 0 {
		// in parent process, immediate return
		return
	}

	// In child process
	afterForkInChild()
	// Notice: cannot call any GO functions beyond this point

	pipe := p[1]
	var status ChildError

	// Close write end of pipe
	if _, _, err1 = syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(p[0]), 0, 0); err1 != 0 {
		childExitError(pipe, LocCloseWrite, err1)
	}

	// The sync pipe and the exec file must not collide with any remap
	// source or target, move them above the remap range first. F_DUPFD
	// picks the lowest free number at or above tempMin so the two never
	// land on each other.
	if pipe < tempMin {
		r1, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(pipe), syscall.F_DUPFD_CLOEXEC, uintptr(tempMin))
		if err1 != 0 {
			childExitError(pipe, LocFcntl, err1)
		}
		syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(pipe), 0, 0)
		pipe = int(r1)
	}
	if r.ExecFile > 0 && int(r.ExecFile) < tempMin {
		r1, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, r.ExecFile, syscall.F_DUPFD_CLOEXEC, uintptr(tempMin))
		if err1 != 0 {
			childExitError(pipe, LocFcntl, err1)
		}
		syscall.RawSyscall(syscall.SYS_CLOSE, r.ExecFile, 0, 0)
		r.ExecFile = r1
	}

	// Replay the remap plan. A failing op reports its 1-based index so
	// the parent can attribute the exact descriptor operation.
	for i, op := range ops {
		switch op.Code {
		case fdmap.OpKeep:
			// dup3(i, i) would fail with EINVAL, reset the flag instead
			_, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(op.Fd1), syscall.F_SETFD, 0)
			if err1 != 0 {
				childExitErrorWithIndex(pipe, LocFcntl, i+1, err1)
			}
		case fdmap.OpDup:
			// flags 0 clears close-on-exec on the target
			_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(op.Fd1), uintptr(op.Fd2), 0)
			if err1 != 0 {
				childExitErrorWithIndex(pipe, LocDup3, i+1, err1)
			}
		case fdmap.OpSave:
			r1, _, err1 = syscall.RawSyscall(syscall.SYS_FCNTL, uintptr(op.Fd1), syscall.F_DUPFD_CLOEXEC, uintptr(tempMin))
			if err1 != 0 {
				childExitErrorWithIndex(pipe, LocFcntl, i+1, err1)
			}
			scratch[op.Fd2] = int(r1)
		case fdmap.OpRestore:
			_, _, err1 = syscall.RawSyscall(syscall.SYS_DUP3, uintptr(scratch[op.Fd1]), uintptr(op.Fd2), 0)
			if err1 != 0 {
				childExitErrorWithIndex(pipe, LocDup3, i+1, err1)
			}
		case fdmap.OpClose:
			_, _, err1 = syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(op.Fd1), 0, 0)
			if err1 != 0 {
				childExitErrorWithIndex(pipe, LocClose, i+1, err1)
			}
		case fdmap.OpCloseTemp:
			_, _, err1 = syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(scratch[op.Fd1]), 0, 0)
			if err1 != 0 {
				childExitErrorWithIndex(pipe, LocClose, i+1, err1)
			}
		case fdmap.OpCloseStdio:
			// the policy only needs the descriptor closed, one that was
			// never open already satisfies it
			_, _, err1 = syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(op.Fd1), 0, 0)
			if err1 != 0 && err1 != syscall.EBADF {
				childExitErrorWithIndex(pipe, LocClose, i+1, err1)
			}
		}
	}

	// chdir for child
	if workdir != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(workdir)), 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocChdir, err1)
		}
	}

	// Set limit
	for i, rlim := range r.RLimits {
		// prlimit instead of setrlimit to avoid 32-bit limitation (linux > 3.2)
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRLIMIT64, 0, uintptr(rlim.Res), uintptr(unsafe.Pointer(&rlim.Rlim)), 0, 0, 0)
		if err1 != 0 {
			childExitErrorWithIndex(pipe, LocSetRlimit, i, err1)
		}
	}

	// No new privs
	if r.NoNewPrivs || r.Seccomp != nil {
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
		if err1 != 0 {
			childExitError(pipe, LocSetNoNewPrivs, err1)
		}
	}

	// Load seccomp filter
	if r.Seccomp != nil {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SECCOMP, SECCOMP_SET_MODE_FILTER, SECCOMP_FILTER_FLAG_TSYNC, uintptr(unsafe.Pointer(r.Seccomp)))
		if err1 != 0 {
			childExitError(pipe, LocSeccomp, err1)
		}
	}

	// Before exec, sync with parent through pipe (configured as close_on_exec)
	{
		r1, _, err1 = syscall.RawSyscall(syscall.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&status)), uintptr(unsafe.Sizeof(status)))
		if r1 == 0 || err1 != 0 {
			childExitError(pipe, LocSyncWrite, err1)
		}

		r1, _, err1 = syscall.RawSyscall(syscall.SYS_READ, uintptr(pipe), uintptr(unsafe.Pointer(&status.Err)), uintptr(unsafe.Sizeof(status.Err)))
		if r1 == 0 || err1 != 0 {
			childExitError(pipe, LocSyncRead, err1)
		}
	}

	// time to exec
	// if execfile fd is specified, call fexecve
	if r.ExecFile > 0 {
		_, _, err1 = syscall.RawSyscall6(unix.SYS_EXECVEAT, r.ExecFile,
			uintptr(unsafe.Pointer(&empty[0])), uintptr(unsafe.Pointer(&argv[0])),
			uintptr(unsafe.Pointer(&env[0])), unix.AT_EMPTY_PATH, 0)
	} else {
		_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(argv0)),
			uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&env[0])))
	}
	// Fix potential ETXTBSY but with caution (max 50 attempt)
	// The ETXTBSY happens when another process still holds a writable fd
	// of the executable, for example a freshly written memfd payload
	for range [50]struct{}{} {
		if err1 != syscall.ETXTBSY {
			break
		}
		// wait instead of busy wait
		syscall.RawSyscall(unix.SYS_NANOSLEEP, uintptr(unsafe.Pointer(&etxtbsyRetryInterval)), 0, 0)
		if r.ExecFile > 0 {
			_, _, err1 = syscall.RawSyscall6(unix.SYS_EXECVEAT, r.ExecFile,
				uintptr(unsafe.Pointer(&empty[0])), uintptr(unsafe.Pointer(&argv[0])),
				uintptr(unsafe.Pointer(&env[0])), unix.AT_EMPTY_PATH, 0)
		} else {
			_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(argv0)),
				uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&env[0])))
		}
	}
	childExitError(pipe, LocExecve, err1)
	return
}

//go:nosplit
func childExitError(pipe int, loc ErrorLocation, err syscall.Errno) {
	// send error code on pipe
	childError := ChildError{
		Err:      err,
		Location: loc,
	}

	syscall.RawSyscall(unix.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&childError)), unsafe.Sizeof(childError))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, ChildFailStatus, 0, 0)
	}
}

//go:nosplit
func childExitErrorWithIndex(pipe int, loc ErrorLocation, idx int, err syscall.Errno) {
	// send error code on pipe
	childError := ChildError{
		Err:      err,
		Location: loc,
		Index:    idx,
	}

	syscall.RawSyscall(unix.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&childError)), unsafe.Sizeof(childError))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, ChildFailStatus, 0, 0)
	}
}
