package timesheet

import "errors"

var (
	// ErrTaskNotActive indicates a task already completed or cancelled.
	ErrTaskNotActive = errors.New("timesheet: task is not active")
	// ErrNoLoggedTime indicates a completion attempt on a task without time.
	ErrNoLoggedTime = errors.New("timesheet: task has no logged time")
	// ErrTimeAlreadyLogged indicates a cancellation attempt on a task with time.
	ErrTimeAlreadyLogged = errors.New("timesheet: task already has logged time")
	// ErrMinutesImmutable indicates an edit tried to change logged minutes.
	ErrMinutesImmutable = errors.New("timesheet: minutes cannot be edited")
)
