package envelope

import "github.com/sealbox/backend/internal/observability"

// State is the phase of one engine operation.
type State int

const (
	Idle State = iota
	HeaderPhase
	BodyPhase
	Finalized
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case HeaderPhase:
		return "header"
	case BodyPhase:
		return "body"
	case Finalized:
		return "finalized"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateHook observes state transitions of every operation.
type StateHook func(op string, s State)

// operation tracks the state machine of a single engine call.
type operation struct {
	name  string
	state State
	log   *observability.Logger
	hook  StateHook
}

func (o *operation) enter(s State) {
	if o.state == s {
		return
	}
	o.log.StateChanged(o.name, o.state.String(), s.String())
	o.state = s
	if o.hook != nil {
		o.hook(o.name, s)
	}
}

// fail moves the operation to Failed unless it already finished.
func (o *operation) fail() {
	if o.state != Finalized {
		o.enter(Failed)
	}
}
