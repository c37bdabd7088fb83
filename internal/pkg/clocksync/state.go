package clocksync

import "github.com/samber/lo"

// State is the phase a Worker is in.
type State int

const (
	StateIdle State = iota
	StateAwaitingDiscoverability
	StateConnecting
	StateDiscoveringServices
	StateWritingClock
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingDiscoverability:
		return "AwaitingDiscoverability"
	case StateConnecting:
		return "Connecting"
	case StateDiscoveringServices:
		return "DiscoveringServices"
	case StateWritingClock:
		return "WritingClock"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// transitions lists the states each state may move to.
var transitions = map[State][]State{
	StateIdle:                    {StateAwaitingDiscoverability},
	StateAwaitingDiscoverability: {StateConnecting, StateDone},
	StateConnecting:              {StateDiscoveringServices, StateDone},
	StateDiscoveringServices:     {StateWritingClock, StateDone},
	StateWritingClock:            {StateDone},
}

func canTransition(from, to State) bool {
	return lo.Contains(transitions[from], to)
}
