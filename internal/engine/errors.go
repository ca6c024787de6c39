package engine

import (
	"errors"
	"fmt"
)

// AlreadyAssignedError rejects an assign while another assignment is live.
type AlreadyAssignedError struct {
	TaskID     string
	AssignedTo string
}

func (e AlreadyAssignedError) Error() string {
	return fmt.Sprintf("task %s is already assigned to user %s", e.TaskID, e.AssignedTo)
}

// NoActiveAssignmentError rejects a complete with nothing to complete.
type NoActiveAssignmentError struct {
	TaskID string
}

func (e NoActiveAssignmentError) Error() string {
	return fmt.Sprintf("no active assignment found for task %s", e.TaskID)
}

// DeleteConflictError rejects deleting a task somebody is working on.
type DeleteConflictError struct {
	TaskID     string
	AssignedTo string
}

func (e DeleteConflictError) Error() string {
	return fmt.Sprintf("cannot delete task %s while it is assigned to user %s", e.TaskID, e.AssignedTo)
}

// ForbiddenError indicates the actor lacks the right to the operation.
type ForbiddenError struct {
	Message string
}

func (e ForbiddenError) Error() string { return e.Message }

// BadRequestError indicates invalid caller input.
type BadRequestError struct {
	Message string
}

func (e BadRequestError) Error() string { return e.Message }

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInviteAccepted     = errors.New("invite already accepted")
)
