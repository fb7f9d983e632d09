package domain

import "errors"

var (
	// ErrTaskNotFound indicates an update or delete referenced a TaskID with
	// no matching row.
	ErrTaskNotFound = errors.New("task not found")

	// ErrBlankUsername indicates an intent carried an empty username.
	ErrBlankUsername = errors.New("username must not be blank")

	ErrMissingTitle    = errors.New("task title is required")
	ErrMissingDetails  = errors.New("task details are required")
	ErrMissingAssignee = errors.New("task assignee is required")
	ErrInvalidStatus   = errors.New("unknown task status")

	// ErrTaskIDAssigned indicates an add intent carried a TaskID even though
	// identifiers are assigned by the server.
	ErrTaskIDAssigned = errors.New("new tasks must not carry a TaskID")

	// ErrTaskIDRequired indicates an update or delete intent without a TaskID.
	ErrTaskIDRequired = errors.New("a TaskID is required")

	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
