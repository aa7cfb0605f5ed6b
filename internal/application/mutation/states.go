package mutation

import (
	"context"

	"github.com/looplab/fsm"
)

// Pipeline states
const (
	StateIdle        = "idle"
	StateValidating  = "validating"
	StateNormalizing = "normalizing"
	StateChecking    = "checking"
	StateComputing   = "computing"
	StateWriting     = "writing"
	StateCommitted   = "committed"
	StateFailed      = "failed"
)

// Pipeline events
const (
	EventValidate  = "validate"
	EventNormalize = "normalize"
	EventCheck     = "check"
	EventCompute   = "compute"
	EventWrite     = "write"
	EventCommit    = "commit"
	EventFail      = "fail"
)

var transitions = fsm.Events{
	{Name: EventValidate, Src: []string{StateIdle}, Dst: StateValidating},
	{Name: EventNormalize, Src: []string{StateValidating}, Dst: StateNormalizing},
	{Name: EventCheck, Src: []string{StateNormalizing}, Dst: StateChecking},
	{Name: EventCompute, Src: []string{StateNormalizing, StateChecking}, Dst: StateComputing},
	// deletes go straight from idle to writing
	{Name: EventWrite, Src: []string{StateIdle, StateComputing}, Dst: StateWriting},
	{Name: EventCommit, Src: []string{StateWriting}, Dst: StateCommitted},
	{Name: EventFail, Src: []string{
		StateIdle, StateValidating, StateNormalizing, StateChecking, StateComputing, StateWriting,
	}, Dst: StateFailed},
}

// run is the state machine of a single mutation
type run struct {
	machine *fsm.FSM
	trace   []string
	onEnter func(state string)
}

func newRun(onEnter func(state string)) *run {
	r := &run{trace: []string{StateIdle}, onEnter: onEnter}
	r.machine = fsm.NewFSM(StateIdle, transitions, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			r.trace = append(r.trace, e.Dst)
			if r.onEnter != nil {
				r.onEnter(e.Dst)
			}
		},
	})
	return r
}

// step fires event. The machine ignores caller cancellation so a canceled
// request still ends in a terminal state.
func (r *run) step(ctx context.Context, event string) error {
	return r.machine.Event(context.WithoutCancel(ctx), event)
}

func (r *run) current() string {
	return r.machine.Current()
}

func (r *run) visited() []string {
	out := make([]string, len(r.trace))
	copy(out, r.trace)
	return out
}
