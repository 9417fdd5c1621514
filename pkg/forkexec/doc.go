// Package forkexec runs a subprocess with its descriptor table rewritten
// by a compiled remap plan between fork and execve, with optional rlimit
// and seccomp filter applied before the final exec.
//
// seccomp requires kernel >= 3.8
// pipe2, dup3 requires kernel >= 2.6.27
package forkexec
