package agent

import "fmt"

// State is a step of the conversation state machine.
type State int

const (
	// StateIdle waits for an inbound message.
	StateIdle State = iota
	// StateAwaitingCompletion waits on the completion provider.
	StateAwaitingCompletion
	// StateDispatchingAction runs an action the provider requested.
	StateDispatchingAction
	// StateFailed is entered when a completion or action fails. The
	// loop leaves it by asking the provider to recover, or stops when
	// recovery is not possible.
	StateFailed
	// StateDone means a final reply has been produced.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateDispatchingAction:
		return "dispatching_action"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
