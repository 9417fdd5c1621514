//go:build unix

package fdmap

import (
	"golang.org/x/sys/unix"
)

// Sys returns the Table backed by the calling process's descriptor
// table.
func Sys() Table {
	return sysTable{}
}

type sysTable struct{}

func (sysTable) Dup(from, to int) error {
	return dupTo(from, to)
}

func (sysTable) DupAbove(from, min int) (int, error) {
	return unix.FcntlInt(uintptr(from), unix.F_DUPFD_CLOEXEC, min)
}

func (sysTable) ClearCloexec(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags&^unix.FD_CLOEXEC)
	return err
}

func (sysTable) Close(fd int) error {
	return unix.Close(fd)
}
