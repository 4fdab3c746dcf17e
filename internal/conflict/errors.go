package conflict

import (
	"errors"
	"strings"
)

var (
	// ErrIdentifierMismatch means Detect was handed two different records.
	// It is a caller bug, not something a user can fix.
	ErrIdentifierMismatch = errors.New("conflict: record identifiers do not match")

	// ErrMissingOverride is matched by every *MissingOverrideError.
	ErrMissingOverride = errors.New("conflict: manual merge requires an override value")

	// ErrUnknownChoice is returned for a resolution choice outside the known set.
	ErrUnknownChoice = errors.New("conflict: unknown resolution choice")

	// ErrInvalidTransition is returned when a conflict leaves a terminal state.
	ErrInvalidTransition = errors.New("conflict: invalid state transition")
)

// MissingOverrideError lists the fields marked manual_merge that had no value.
type MissingOverrideError struct {
	Fields []Field
}

func (e *MissingOverrideError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return ErrMissingOverride.Error() + ": " + strings.Join(names, ", ")
}

// Is lets errors.Is(err, ErrMissingOverride) match.
func (e *MissingOverrideError) Is(target error) bool {
	return target == ErrMissingOverride
}
