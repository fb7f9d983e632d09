package domain

import "time"

// Task statuses accepted by the hub.
const (
	StatusOpen   = "Open"
	StatusClosed = "Closed"
	StatusOnHold = "On Hold"
)

// Task represents a single tracked item. TaskID and DateCreated are assigned
// server-side on insert and never change afterwards.
type Task struct {
	TaskID      int64     `json:"TaskID,omitempty"`
	Title       string    `json:"Title"`
	Details     string    `json:"Details"`
	AssignedTo  string    `json:"AssignedTo"`
	Status      string    `json:"Status"`
	DateCreated time.Time `json:"DateCreated,omitempty"`
	IsDeleted   bool      `json:"IsDeleted"`
}

// ValidStatus reports whether s is one of the known task statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusClosed, StatusOnHold:
		return true
	}
	return false
}

// Validate checks the fields a client must provide before a task can be
// persisted.
func (t Task) Validate() error {
	if t.Title == "" {
		return ErrMissingTitle
	}
	if t.Details == "" {
		return ErrMissingDetails
	}
	if t.AssignedTo == "" {
		return ErrMissingAssignee
	}
	if !ValidStatus(t.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// ConnectedUser ties a live connection to the username that logged in on it.
type ConnectedUser struct {
	ConnectionID string `json:"ConnectionID"`
	Username     string `json:"Username"`
}
