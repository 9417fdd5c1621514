package forkexec

import (
	"syscall"
	"unsafe" // required for go:linkname.

	"golang.org/x/sys/unix"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// Start will fork, replay the remap plan on the child descriptor table,
// apply rlimit / seccomp and execve.
// Return pid and potential error
func (r *Runner) Start() (int, error) {
	argv0, argv, env, err := prepareExec(r.Args, r.Env)
	if err != nil {
		return 0, err
	}

	// prepare work dir
	workdir, err := syscallStringFromString(r.WorkDir)
	if err != nil {
		return 0, err
	}

	// scratch registers for the remap temporaries, one per cycle,
	// allocated before the fork so the child never allocates
	var scratch []int
	if r.Plan != nil {
		scratch = make([]int, r.Plan.TempCount)
	}

	// socketpair p is used to sync with parent before final execve
	// and to report the failing operation
	// p[0] is used by parent and p[1] is used by child
	p, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}

	// fork in child
	pid, err1 := forkAndExecInChild(r, argv0, argv, env, workdir, scratch, p)

	// restore all signals
	afterFork()
	syscall.ForkLock.Unlock()

	return syncWithChild(r, p, int(pid), err1)
}

func syncWithChild(r *Runner, p [2]int, pid int, err1 syscall.Errno) (int, error) {
	var (
		r1   uintptr
		ack  syscall.Errno
		cerr ChildError
		err  error
	)

	// sync with child
	unix.Close(p[1])

	// clone syscall failed
	if err1 != 0 {
		unix.Close(p[0])
		return 0, syscall.Errno(err1)
	}

	// child reports sync and failure as a full ChildError so the
	// failing operation can be attributed
	r1, _, err1 = syscall.RawSyscall(syscall.SYS_READ, uintptr(p[0]), uintptr(unsafe.Pointer(&cerr)), uintptr(unsafe.Sizeof(cerr)))
	if r1 != unsafe.Sizeof(cerr) || cerr.Err != 0 || err1 != 0 {
		err = handleChildError(r, r1, cerr)
		goto fail
	}

	// if syncfunc return error, then fail child immediately
	if r.SyncFunc != nil {
		if err = r.SyncFunc(pid); err != nil {
			goto fail
		}
	}
	// otherwise, ack child (ack == 0)
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(p[0]), uintptr(unsafe.Pointer(&ack)), uintptr(unsafe.Sizeof(ack)))

	// if read anything mean child failed after sync (close_on_exec so it should not block)
	r1, _, err1 = syscall.RawSyscall(syscall.SYS_READ, uintptr(p[0]), uintptr(unsafe.Pointer(&cerr)), uintptr(unsafe.Sizeof(cerr)))
	unix.Close(p[0])
	if r1 != 0 || err1 != 0 {
		err = handleChildError(r, r1, cerr)
		goto failAfterClose
	}
	return pid, nil

fail:
	unix.Close(p[0])

failAfterClose:
	handleChildFailed(pid)
	return 0, err
}

// handleChildError converts the reported failure into the typed remap
// error when the failing operation belongs to the plan
func handleChildError(r *Runner, r1 uintptr, cerr ChildError) error {
	if r1 != unsafe.Sizeof(cerr) {
		return syscall.EPIPE
	}
	if r.Plan != nil && cerr.Index > 0 && isPlanLoc(cerr.Location) {
		return r.Plan.OpError(cerr.Index-1, cerr.Err)
	}
	return cerr
}

// isPlanLoc reports whether a location carries a remap plan op index
func isPlanLoc(loc ErrorLocation) bool {
	switch loc {
	case LocFcntl, LocDup3, LocClose:
		return true
	}
	return false
}

func handleChildFailed(pid int) {
	var wstatus syscall.WaitStatus
	// make sure not blocked
	syscall.Kill(pid, syscall.SIGKILL)
	// child failed; wait for it to exit, to make sure the zombies don't accumulate
	_, err := syscall.Wait4(pid, &wstatus, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &wstatus, 0, nil)
	}
}
