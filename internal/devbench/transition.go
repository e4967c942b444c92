package devbench

import (
	"fmt"
	"time"
)

// Op names a transition-triggering operation.
type Op string

const (
	OpCreate   Op = "create"
	OpRetry    Op = "retry"
	OpActivate Op = "activate"
	OpStatus   Op = "status"
	OpDelete   Op = "delete"
)

var anyState = []State{StateCreating, StateActive, StateInactive, StateError}

// transitions maps op -> from -> allowed targets.
var transitions = map[Op]map[State][]State{
	OpCreate: {
		StateCreating: {StateActive, StateError},
	},
	OpRetry: {
		StateError:    {StateCreating},
		StateCreating: {StateActive, StateError},
	},
	OpActivate: fromAny(StateActive, StateError),
	OpStatus:   fromAny(StateActive, StateInactive),
}

func fromAny(to ...State) map[State][]State {
	m := make(map[State][]State, len(anyState))
	for _, s := range anyState {
		m[s] = to
	}
	return m
}

// Allowed reports whether op may move a devbench from one state to another.
// Staying in the same state is always allowed for ops that permit the target.
func Allowed(op Op, from, to State) bool {
	for _, s := range transitions[op][from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies op's move to d, refreshing UpdatedAt via now.
// A successful move into a non-error state clears LastError.
func (d *Devbench) Transition(op Op, to State, now func() time.Time) error {
	if !Allowed(op, d.State, to) {
		return fmt.Errorf("%w: %s cannot move %s -> %s", ErrTransition, op, d.State, to)
	}
	d.State = to
	if to != StateError {
		d.LastError = ""
	}
	d.UpdatedAt = now()
	return nil
}
