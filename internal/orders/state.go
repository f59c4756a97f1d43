package orders

import (
	"fmt"
	"strings"
)

type State string

const (
	StateOrdered     State = "ORDERED"
	StateProgressing State = "PROGRESSING"
	StateCollected   State = "COLLECTED"
	StateCancelled   State = "CANCELLED"
)

// States lists every state, live ones first.
var States = []State{StateOrdered, StateProgressing, StateCollected, StateCancelled}

var validNext = map[State]map[State]bool{
	StateOrdered:     {StateProgressing: true, StateCancelled: true},
	StateProgressing: {StateCollected: true},
	StateCollected:   {},
	StateCancelled:   {},
}

// linear fulfillment path; cancellation is a side exit from ORDERED only.
var forward = map[State]State{
	StateOrdered:     StateProgressing,
	StateProgressing: StateCollected,
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}

// Next returns the state that follows s on the fulfillment path.
func (s State) Next() (State, bool) {
	n, ok := forward[s]
	return n, ok
}

func (s State) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// Active reports whether an order in s still holds a stock reservation.
func (s State) Active() bool {
	return s == StateOrdered || s == StateProgressing
}

func (s State) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown order state %q", v)
	}
	return s, nil
}
