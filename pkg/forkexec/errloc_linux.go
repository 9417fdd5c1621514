package forkexec

import (
	"fmt"
	"syscall"
)

// ErrorLocation defines the location where child process failed to exec
type ErrorLocation int

// ChildError defines the specific error and location where it failed.
// For remap plan operations, Index carries the 1-based op index so the
// parent can attribute the failure to the exact descriptor operation.
type ChildError struct {
	Err      syscall.Errno
	Location ErrorLocation
	Index    int
}

// Location constants
const (
	LocClone ErrorLocation = iota + 1
	LocCloseWrite
	LocFcntl
	LocDup3
	LocClose
	LocChdir
	LocSetRlimit
	LocSetNoNewPrivs
	LocSeccomp
	LocSyncWrite
	LocSyncRead
	LocExecve
)

var locToString = []string{
	"unknown",
	"clone",
	"close_write",
	"fcntl",
	"dup3",
	"close",
	"chdir",
	"setrlimt",
	"set_no_new_privs",
	"seccomp",
	"sync_write",
	"sync_read",
	"execve",
}

func (e ErrorLocation) String() string {
	if e >= LocClone && e <= LocExecve {
		return locToString[e]
	}
	return "unknown"
}

func (e ChildError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("%s(%d): %s", e.Location.String(), e.Index, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Location.String(), e.Err.Error())
}
