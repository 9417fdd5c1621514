package fdmap

import (
	"errors"
	"fmt"
)

// ErrAlreadyApplied is returned by Executor.Apply after a previous
// attempt on the same executor, successful or not.
var ErrAlreadyApplied = errors.New("fdmap: plan already applied")

// DuplicateTargetError reports two mappings claiming the same target
// descriptor. It is returned by New before any descriptor is touched.
type DuplicateTargetError struct {
	Fd int
}

func (e DuplicateTargetError) Error() string {
	return fmt.Sprintf("duplicate target descriptor %d", e.Fd)
}

// InvalidDescriptorError reports a negative source or target number.
type InvalidDescriptorError struct {
	Fd int
}

func (e InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid descriptor number %d", e.Fd)
}

// DupError reports a failed duplication of Source onto Target. A
// pass-through mapping that failed to clear close-on-exec reports
// Source == Target.
type DupError struct {
	Source int
	Target int
	Err    error
}

func (e DupError) Error() string {
	return fmt.Sprintf("dup %d => %d: %s", e.Source, e.Target, e.Err.Error())
}

func (e DupError) Unwrap() error { return e.Err }

// TempError reports that no temporary could be obtained to save Source
// before its number is overwritten.
type TempError struct {
	Source int
	Err    error
}

func (e TempError) Error() string {
	return fmt.Sprintf("dup temporary for %d: %s", e.Source, e.Err.Error())
}

func (e TempError) Unwrap() error { return e.Err }

// CloseError reports a failed cleanup close. Fd is -1 when the
// descriptor was a cycle temporary. The permutation may have succeeded
// but the leaked descriptor makes the attempt fatal anyway.
type CloseError struct {
	Fd  int
	Err error
}

func (e CloseError) Error() string {
	if e.Fd < 0 {
		return fmt.Sprintf("close temporary: %s", e.Err.Error())
	}
	return fmt.Sprintf("close %d: %s", e.Fd, e.Err.Error())
}

func (e CloseError) Unwrap() error { return e.Err }
