package broker

// Request asks the broker to spawn a single command with the donated
// descriptors remapped into place. The descriptors are attached to the
// same message as SCM_RIGHTS oob data; donated descriptor i becomes
// descriptor Targets[i] of the spawned command.
type Request struct {
	Args    []string // execve argv
	Env     []string // execve env, server default when empty
	Targets []int    // remap targets, one per donated descriptor
	WorkDir string   // working directory for the command when set

	CloseStdio    bool // close unmapped stdin / stdout / stderr
	CaptureOutput bool // collect combined output and return it in the reply
}

// Reply reports the outcome of a single spawn.
type Reply struct {
	ExitStatus int    // exit status of the command, 128 + signal number when killed
	Error      string // non empty when the spawn failed
	Output     []byte // combined output when requested, bounded by the server
}
