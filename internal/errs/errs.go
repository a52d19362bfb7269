// Package errs defines the error taxonomy shared by the orchestrator
// components. Handlers map these onto HTTP status codes.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an unknown workflow, approval, step, or comment.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks an operation that is not valid for the target's
	// current lifecycle state, such as deciding a resolved approval.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation marks a malformed request.
	ErrValidation = errors.New("validation error")

	// ErrTimeout marks an exceeded polling ceiling.
	ErrTimeout = errors.New("timeout")
)

// NotFound wraps ErrNotFound with the missing entity's kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// InvalidState wraps ErrInvalidState with a description of the conflict.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

// Validation wraps ErrValidation with the reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// CollaboratorError reports that a downstream agent returned a non-success
// status or was unreachable.
type CollaboratorError struct {
	Agent  string
	Status int
	Err    error
}

func (e *CollaboratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("collaborator %s: %v", e.Agent, e.Err)
	}
	return fmt.Sprintf("collaborator %s: status %d", e.Agent, e.Status)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsCollaborator reports whether err is a CollaboratorError.
func IsCollaborator(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
