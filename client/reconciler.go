package client

import (
	"fmt"
	"sync"

	"taskr/domain"
)

// Reconciler folds hub push events into an ordered, duplicate-free local
// collection of the logged-in user's tasks. It is the only writer of that
// collection; UI layers read snapshots and subscribe to change callbacks.
//
// Events must be applied one at a time in the order they arrive on the
// connection. The merge makes no attempt to repair out-of-order delivery.
type Reconciler struct {
	username string

	mu    sync.Mutex
	tasks []domain.Task
	logs  []string

	onTasks func([]domain.Task)
	onLog   func(string)
	onError func(domain.ErrorEvent)
}

func NewReconciler(username string) *Reconciler {
	return &Reconciler{username: username}
}

// Username returns the identity the collection is scoped to.
func (r *Reconciler) Username() string { return r.username }

// OnTasksChanged registers a callback invoked with a snapshot after every
// change to the task collection. Register callbacks before events flow.
func (r *Reconciler) OnTasksChanged(fn func([]domain.Task)) { r.onTasks = fn }

// OnLogMessage registers a callback for log broadcast lines.
func (r *Reconciler) OnLogMessage(fn func(string)) { r.onLog = fn }

// OnException registers a callback for server-side failures pushed to this
// connection.
func (r *Reconciler) OnException(fn func(domain.ErrorEvent)) { r.onError = fn }

// Tasks returns a snapshot of the current collection.
func (r *Reconciler) Tasks() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Log returns a snapshot of the append-only log view.
func (r *Reconciler) Log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.logs))
	copy(out, r.logs)
	return out
}

// Apply merges one pushed event into the collection. Callbacks fire after
// the lock is released so they can read snapshots freely.
func (r *Reconciler) Apply(ev domain.Event) error {
	var (
		tasksSnap []domain.Task
		changed   bool
		logLine   string
		gotLog    bool
	)

	r.mu.Lock()
	switch ev.Type {
	case domain.EventGotTasksForUser:
		tasks, err := ev.TasksPayload()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		// Full sync: the one case where the whole collection is replaced.
		r.tasks = tasks
		changed = true

	case domain.EventAddedTask:
		task, err := ev.TaskPayload()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		// Adds are only broadcast to the assignee's group, so whoever
		// receives this is the assignee.
		r.tasks = append(r.tasks, task)
		changed = true

	case domain.EventUpdatedTask:
		task, err := ev.TaskPayload()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		changed = r.applyUpdate(task)

	case domain.EventDeletedTask:
		task, err := ev.TaskPayload()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		if i := r.indexOf(task.TaskID); i >= 0 {
			r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
			changed = true
		}

	case domain.EventGotLogMessage:
		m, err := ev.LogPayload()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.logs = append(r.logs, m.Message)
		logLine = m.Message
		gotLog = true

	case domain.EventHandleException:
		r.mu.Unlock()
		errEv, err := ev.ErrorPayload()
		if err != nil {
			return err
		}
		if r.onError != nil {
			r.onError(errEv)
		}
		return nil

	default:
		r.mu.Unlock()
		return fmt.Errorf("unknown event %q", ev.Type)
	}
	if changed {
		tasksSnap = r.snapshot()
	}
	r.mu.Unlock()

	if changed && r.onTasks != nil {
		r.onTasks(tasksSnap)
	}
	if gotLog && r.onLog != nil {
		r.onLog(logLine)
	}
	return nil
}

// applyUpdate reports whether the collection changed.
func (r *Reconciler) applyUpdate(task domain.Task) bool {
	i := r.indexOf(task.TaskID)
	switch {
	case i >= 0 && (task.IsDeleted || task.AssignedTo != r.username):
		// The task left this user's purview, deleted or reassigned away.
		r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
		return true
	case i >= 0:
		existing := &r.tasks[i]
		existing.AssignedTo = task.AssignedTo
		existing.Details = task.Details
		existing.Status = task.Status
		existing.Title = task.Title
		existing.IsDeleted = task.IsDeleted
		return true
	case task.AssignedTo == r.username:
		// Newly reassigned to this user: treat as an implicit add.
		r.tasks = append(r.tasks, task)
		return true
	}
	return false
}

func (r *Reconciler) indexOf(taskID int64) int {
	for i := range r.tasks {
		if r.tasks[i].TaskID == taskID {
			return i
		}
	}
	return -1
}

func (r *Reconciler) snapshot() []domain.Task {
	out := make([]domain.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}
