// Package broker provides a descriptor donation service: a client
// donates open file descriptors over a unix socket together with a
// command line, and the broker spawns the command with the donated
// descriptors remapped to the requested numbers.
//
// # Overview
//
// The broker listens on a SOCK_SEQPACKET unix socket. Commands are
// encoded by gob and descriptors travel as SCM_RIGHTS oob data, so a
// client can hand over any open descriptor (a file, a pipe end, a
// socket) and choose the number it receives inside the child.
//
// # Protocol
//
// Each connection carries a single request and is always initiated by
// the client:
//
// ## spawn (run a command with donated descriptors)
//
// - send: Request, donated fds as oob
// - reply: Reply
//
// Donated descriptor i becomes descriptor Targets[i] of the spawned
// command. The broker validates the targets before anything runs,
// optionally collects combined output through a pipe, waits for the
// child and always closes its copy of the donated descriptors before
// replying.
package broker
