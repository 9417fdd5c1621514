package fdmap

import (
	"golang.org/x/sys/unix"
)

// dup3 rather than dup2: linux/arm64 has no dup2 syscall, and dup3
// with flags 0 clears close-on-exec on the new descriptor. The plan
// compiler never emits a duplication with from == to, which dup3
// rejects with EINVAL.
func dupTo(from, to int) error {
	return unix.Dup3(from, to, 0)
}
