package fdmap

import (
	"fmt"
	"syscall"
)

// OpCode enumerates the descriptor table operations a compiled plan may
// perform. The set is deliberately small: it is the full capability
// surface of the post-fork window.
type OpCode int

// Plan op codes
const (
	// OpKeep clears close-on-exec on pass-through descriptor Fd1
	OpKeep OpCode = iota + 1
	// OpDup duplicates Fd1 onto Fd2, overwriting Fd2
	OpDup
	// OpSave duplicates Fd1 to an OS chosen number at or above TempMin
	// and records it in scratch slot Fd2
	OpSave
	// OpRestore duplicates the descriptor in scratch slot Fd1 onto Fd2
	OpRestore
	// OpClose closes Fd1
	OpClose
	// OpCloseTemp closes the descriptor in scratch slot Fd1
	OpCloseTemp
	// OpCloseStdio closes stdio descriptor Fd1, tolerating EBADF since
	// the policy only asks for the descriptor to end up closed
	OpCloseStdio
)

var opToString = []string{
	"unknown",
	"keep",
	"dup",
	"save",
	"restore",
	"close",
	"close_temp",
	"close_stdio",
}

func (c OpCode) String() string {
	if c >= OpKeep && c <= OpCloseStdio {
		return opToString[c]
	}
	return "unknown"
}

// Op is a single step of a compiled plan. The meaning of Fd1 / Fd2
// depends on Code; scratch slot numbers index the per-replay register
// slice, not the descriptor table.
type Op struct {
	Code OpCode
	Fd1  int
	Fd2  int
}

func (op Op) String() string {
	switch op.Code {
	case OpKeep, OpClose, OpCloseStdio:
		return fmt.Sprintf("%v(%d)", op.Code, op.Fd1)
	case OpCloseTemp:
		return fmt.Sprintf("%v(t%d)", op.Code, op.Fd1)
	case OpRestore:
		return fmt.Sprintf("%v(t%d => %d)", op.Code, op.Fd1, op.Fd2)
	case OpSave:
		return fmt.Sprintf("%v(%d => t%d)", op.Code, op.Fd1, op.Fd2)
	}
	return fmt.Sprintf("%v(%d => %d)", op.Code, op.Fd1, op.Fd2)
}

// Plan is the flat operation sequence realizing one Set. It is
// immutable once compiled and may be replayed multiple times;
// per-replay state lives in a caller provided scratch slice of
// TempCount registers, so no allocation happens at replay time.
type Plan struct {
	// Ops is replayed in order
	Ops []Op
	// TempMin is the first descriptor number safe for temporaries,
	// one above every source and target in the set
	TempMin int
	// TempCount is the number of scratch registers a replay needs
	TempCount int

	maps []Mapping
}

// Plan compiles the permutation. Duplications are emitted in an order
// that never overwrites a descriptor still pending as a source; when
// only cycles remain, the entry target is saved to a temporary above
// TempMin and the mappings reading it replay from the scratch register
// instead. Close operations for consumed sources, temporaries and the
// stdio policy follow the duplications.
func (s *Set) Plan() *Plan {
	p := &Plan{maps: s.maps}

	// pass-throughs only need close-on-exec cleared; emitted first so
	// a closed descriptor fails before the table is disturbed
	var moves []Mapping
	isTarget := make(map[int]bool, len(s.maps))
	for _, m := range s.maps {
		isTarget[m.Target] = true
		if m.Source == m.Target {
			p.Ops = append(p.Ops, Op{Code: OpKeep, Fd1: m.Source})
		} else {
			moves = append(moves, m)
		}
		if m.Source >= p.TempMin {
			p.TempMin = m.Source + 1
		}
		if m.Target >= p.TempMin {
			p.TempMin = m.Target + 1
		}
	}

	// readers counts pending moves that still need to read a number;
	// a move may run once nothing more reads its target
	readers := make(map[int]int, len(moves))
	for _, m := range moves {
		readers[m.Source]++
	}

	// slot maps a saved descriptor number to its scratch register
	slot := make(map[int]int)
	// removal shifts entries within the backing array, so schedule on a
	// copy and keep moves intact for the close pass
	pending := append([]Mapping(nil), moves...)
	for len(pending) > 0 {
		emitted := false
		for i, m := range pending {
			if readers[m.Target] > 0 {
				continue
			}
			if n, ok := slot[m.Source]; ok {
				// the original number is gone, replay from scratch
				p.Ops = append(p.Ops, Op{Code: OpRestore, Fd1: n, Fd2: m.Target})
			} else {
				p.Ops = append(p.Ops, Op{Code: OpDup, Fd1: m.Source, Fd2: m.Target})
				readers[m.Source]--
			}
			pending = append(pending[:i], pending[i+1:]...)
			emitted = true
			break
		}
		if emitted {
			continue
		}
		// every pending target is still read by another pending move,
		// so the remainder contains a cycle. Save the first target and
		// hand its readers over to the scratch register.
		m := pending[0]
		p.Ops = append(p.Ops, Op{Code: OpSave, Fd1: m.Target, Fd2: p.TempCount})
		slot[m.Target] = p.TempCount
		p.TempCount++
		readers[m.Target] = 0
	}

	// consumed sources are closed unless requested in the final table
	// or preserved by the stdio policy, each number once
	closed := make(map[int]bool, len(moves))
	for _, m := range moves {
		n := m.Source
		if closed[n] || isTarget[n] {
			continue
		}
		if s.stdio == StdioPreserve && n <= 2 {
			continue
		}
		p.Ops = append(p.Ops, Op{Code: OpClose, Fd1: n})
		closed[n] = true
	}
	for i := 0; i < p.TempCount; i++ {
		p.Ops = append(p.Ops, Op{Code: OpCloseTemp, Fd1: i})
	}
	if s.stdio == StdioClose {
		for n := 0; n <= 2; n++ {
			if !closed[n] && !isTarget[n] {
				p.Ops = append(p.Ops, Op{Code: OpCloseStdio, Fd1: n})
			}
		}
	}
	return p
}

// apply replays the ops onto t with scratch as the temporary registers.
// On failure the temporaries opened so far are closed before returning
// so no exit path leaks a descriptor.
func (p *Plan) apply(t Table, scratch []int) error {
	for i, op := range p.Ops {
		var err error
		switch op.Code {
		case OpKeep:
			err = t.ClearCloexec(op.Fd1)
		case OpDup:
			err = t.Dup(op.Fd1, op.Fd2)
		case OpSave:
			scratch[op.Fd2], err = t.DupAbove(op.Fd1, p.TempMin)
		case OpRestore:
			err = t.Dup(scratch[op.Fd1], op.Fd2)
		case OpClose:
			err = t.Close(op.Fd1)
		case OpCloseTemp:
			err = t.Close(scratch[op.Fd1])
		case OpCloseStdio:
			if err = t.Close(op.Fd1); err == syscall.EBADF {
				err = nil
			}
		}
		if err != nil {
			p.closeTemps(t, scratch, i)
			return p.opError(i, err)
		}
	}
	return nil
}

// closeTemps releases the temporaries still open before op failed.
// Temporaries are created and closed in register order, so the open
// ones form a contiguous range.
func (p *Plan) closeTemps(t Table, scratch []int, failed int) {
	saved, released := 0, 0
	for i := 0; i < failed; i++ {
		switch p.Ops[i].Code {
		case OpSave:
			saved++
		case OpCloseTemp:
			released++
		}
	}
	if p.Ops[failed].Code == OpCloseTemp {
		// the failing close consumed its register either way
		released++
	}
	for i := released; i < saved; i++ {
		t.Close(scratch[i])
	}
}

// opError wraps the failure of Ops[i] into the typed error for that
// operation, attributing the descriptors involved.
func (p *Plan) opError(i int, err error) error {
	if i < 0 || i >= len(p.Ops) {
		return err
	}
	op := p.Ops[i]
	switch op.Code {
	case OpKeep:
		return DupError{Source: op.Fd1, Target: op.Fd1, Err: err}
	case OpDup:
		return DupError{Source: op.Fd1, Target: op.Fd2, Err: err}
	case OpSave:
		return TempError{Source: op.Fd1, Err: err}
	case OpRestore:
		return DupError{Source: p.sourceOf(op.Fd2), Target: op.Fd2, Err: err}
	case OpClose, OpCloseStdio:
		return CloseError{Fd: op.Fd1, Err: err}
	case OpCloseTemp:
		return CloseError{Fd: -1, Err: err}
	}
	return err
}

// OpError converts an errno reported for Ops[i] by an external replay,
// such as the forkexec child, into the typed error for that operation.
func (p *Plan) OpError(i int, errno syscall.Errno) error {
	return p.opError(i, errno)
}

// sourceOf finds the mapping source for a target, for error reporting
// on restored duplications.
func (p *Plan) sourceOf(target int) int {
	for _, m := range p.maps {
		if m.Target == target {
			return m.Source
		}
	}
	return -1
}
