package hub

import (
	"context"

	"taskr/domain"
)

// Store abstracts persistence for the hub.
type Store interface {
	// ActiveTasks returns the non-deleted tasks assigned to username in
	// insertion order.
	ActiveTasks(ctx context.Context, username string) ([]domain.Task, error)
	// HasTasks reports whether any task, soft-deleted or not, was ever
	// assigned to username.
	HasTasks(ctx context.Context, username string) (bool, error)
	// GetTask returns the task with the given id, or nil when absent.
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	// InsertTask persists a new task and assigns its TaskID.
	InsertTask(ctx context.Context, t *domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	// SoftDeleteTask marks the task deleted and returns the stored row.
	SoftDeleteTask(ctx context.Context, id int64) (*domain.Task, error)

	GetConnectedUser(ctx context.Context, connectionID string) (*domain.ConnectedUser, error)
	InsertConnectedUser(ctx context.Context, cu domain.ConnectedUser) error
	RemoveConnectedUser(ctx context.Context, connectionID string) error
}

// Broadcaster delivers events to connections. Caller targets a single
// connection, Group every connection joined to the named group, All every
// live connection.
type Broadcaster interface {
	Caller(ctx context.Context, connectionID string, ev domain.Event) error
	Group(ctx context.Context, group string, ev domain.Event) error
	All(ctx context.Context, ev domain.Event) error
	// Join subscribes a connection to a named group.
	Join(connectionID, group string) error
}

// Deduper prevents processing of duplicate intents.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// AuditSink records applied mutations. Submit must not block the caller;
// it returns false when the record was dropped.
type AuditSink interface {
	Submit(rec domain.AuditRecord) bool
}
