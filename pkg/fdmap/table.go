package fdmap

// Table is the restricted set of descriptor table operations a plan
// replay is allowed to perform, the in-process counterpart of the raw
// syscalls the forkexec child uses. Implementations must keep each
// call O(1) and must not hold locks across calls; tests substitute an
// integer keyed mock.
type Table interface {
	// Dup makes to refer to the file open at from, overwriting
	// whatever to referred to. Close-on-exec is clear on to afterwards.
	Dup(from, to int) error
	// DupAbove duplicates from onto the lowest free number at or above
	// min and returns the chosen number, with close-on-exec set so the
	// duplicate cannot survive an execve.
	DupAbove(from, min int) (int, error)
	// ClearCloexec clears the close-on-exec flag on fd.
	ClearCloexec(fd int) error
	// Close closes fd.
	Close(fd int) error
}
