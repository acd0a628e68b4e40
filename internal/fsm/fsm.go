package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle           State = "idle"
	StateBootstrapping  State = "bootstrapping"
	StateAwaitingAnswer State = "awaiting_answer"
	StateRecording      State = "recording"
	StateSubmitting     State = "submitting"
	StateEnding         State = "ending"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

const (
	EventBootstrap Event = "bootstrap"
	EventReady     Event = "ready"
	EventRecord    Event = "record"
	EventStop      Event = "stop"
	EventSubmit    Event = "submit"
	EventAccepted  Event = "accepted"
	EventRejected  Event = "rejected"
	EventEnd       Event = "end"
	EventComplete  Event = "complete"
	EventFail      Event = "fail"
)

// Transition returns the state reached from current on event. Complete and
// Failed accept no events.
func Transition(current State, event Event) (State, error) {
	if Terminal(current) {
		return current, invalidTransition(current, event)
	}
	if event == EventFail {
		switch current {
		case StateIdle, StateBootstrapping, StateAwaitingAnswer, StateRecording, StateSubmitting, StateEnding:
			return StateFailed, nil
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventBootstrap:
			return StateBootstrapping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateBootstrapping:
		switch event {
		case EventReady:
			return StateAwaitingAnswer, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAwaitingAnswer:
		switch event {
		case EventRecord:
			return StateRecording, nil
		case EventSubmit:
			return StateSubmitting, nil
		case EventEnd:
			return StateEnding, nil
		case EventComplete:
			return StateComplete, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateAwaitingAnswer, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSubmitting:
		switch event {
		case EventAccepted, EventRejected:
			return StateAwaitingAnswer, nil
		case EventEnd:
			return StateEnding, nil
		case EventComplete:
			return StateComplete, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateEnding:
		switch event {
		case EventRejected:
			return StateAwaitingAnswer, nil
		case EventComplete:
			return StateComplete, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Terminal reports whether no further transitions leave state.
func Terminal(state State) bool {
	return state == StateComplete || state == StateFailed
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
