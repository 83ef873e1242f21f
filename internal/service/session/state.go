package session

import (
	"errors"
	"fmt"
)

type State int

const (
	StateConnecting State = iota
	StateAccepted
	StateSubscribed
	StateRejected
	StateClosed
)

var ErrInvalidTransition = errors.New("invalid session state transition")

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAccepted:
		return "accepted"
	case StateSubscribed:
		return "subscribed"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateConnecting: {StateAccepted, StateRejected, StateClosed},
	StateAccepted:   {StateSubscribed, StateClosed},
	StateSubscribed: {StateClosed},
	StateRejected:   {StateClosed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
