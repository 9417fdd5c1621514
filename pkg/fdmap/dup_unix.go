//go:build unix && !linux

package fdmap

import (
	"golang.org/x/sys/unix"
)

// dup2 is universal outside linux and clears close-on-exec on the new
// descriptor.
func dupTo(from, to int) error {
	return unix.Dup2(from, to)
}
