package forkexec

import (
	"golang.org/x/sys/unix"
)

// defines missing consts from syscall package
const (
	SECCOMP_SET_MODE_STRICT   = 0
	SECCOMP_SET_MODE_FILTER   = 1
	SECCOMP_FILTER_FLAG_TSYNC = 1
)

// ChildFailStatus is the reserved exit status of a child that failed
// between clone and execve. The replaced program never produces it
// through a plain exit code, so a parent watching the wait status can
// tell a remap failure from the program's own result.
const ChildFailStatus = 0x7f

var (
	empty = [...]byte{0}

	// wait 1 millisecond between ETXTBSY retries
	etxtbsyRetryInterval = unix.Timespec{
		Nsec: 1 * 1000 * 1000,
	}
)
