package fdmap

import (
	"go.uber.org/atomic"
)

// Executor applies one compiled plan onto a live descriptor table.
// Apply consumes the source descriptors, so each executor runs at most
// once; later calls report ErrAlreadyApplied without touching the
// table.
type Executor struct {
	plan    *Plan
	scratch []int
	state   *atomic.Int32
}

// executor states, terminal once applied or failed
const (
	stateUnapplied int32 = iota
	stateApplying
	stateApplied
	stateFailed
)

// NewExecutor compiles set into its executor. The scratch registers
// are allocated here so Apply itself does not allocate.
func NewExecutor(set *Set) *Executor {
	plan := set.Plan()
	return &Executor{
		plan:    plan,
		scratch: make([]int, plan.TempCount),
		state:   atomic.NewInt32(stateUnapplied),
	}
}

// Plan returns the compiled plan.
func (e *Executor) Plan() *Plan {
	return e.plan
}

// Apply replays the plan onto t. On failure every temporary created so
// far has been closed, but the table may hold a partial permutation:
// the caller must treat the error as fatal to the surrounding spawn
// attempt rather than continue toward exec.
func (e *Executor) Apply(t Table) error {
	if !e.state.CAS(stateUnapplied, stateApplying) {
		return ErrAlreadyApplied
	}
	if err := e.plan.apply(t, e.scratch); err != nil {
		e.state.Store(stateFailed)
		return err
	}
	e.state.Store(stateApplied)
	return nil
}
