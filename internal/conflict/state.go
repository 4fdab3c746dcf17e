package conflict

import "fmt"

// State is the lifecycle of a single conflict.
type State string

const (
	StateAwaiting  State = "awaiting"
	StateResolved  State = "resolved"
	StateAbandoned State = "abandoned"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateAbandoned
}

// Transition validates a move between states. Only awaiting can move, and
// only to one of the terminal states.
func Transition(from, to State) error {
	if from == StateAwaiting && to.Terminal() {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
