package hub

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"taskr/domain"
)

// Seeded for every user that logs in without any task history.
const (
	welcomeTitle   = "Your First Task"
	welcomeDetails = "Welcome to TaskR! Now delete this task and create some of your own."
)

// Hub applies client intents to the task store and broadcasts the outcome to
// the affected connections. It keeps no per-connection state of its own; that
// lives in the Registry. A Hub is safe for concurrent use across connections.
type Hub struct {
	store    Store
	bcast    Broadcaster
	registry *Registry
	deduper  Deduper
	audit    AuditSink
	logger   *log.Logger
}

// New creates a Hub. deduper and audit may be nil, which disables intent
// deduplication and the audit trail respectively.
func New(store Store, bcast Broadcaster, registry *Registry, deduper Deduper, audit AuditSink, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		store:    store,
		bcast:    bcast,
		registry: registry,
		deduper:  deduper,
		audit:    audit,
		logger:   logger,
	}
}

// Dispatch runs a single inbound intent for the given connection. Any failure
// is converted into a HandleException event pushed to that connection only;
// Dispatch never lets an error or panic escape to the transport layer.
func (h *Hub) Dispatch(ctx context.Context, connectionID string, in domain.Intent) {
	metrics := newIntentMetrics(h.logger, in.Type, connectionID)
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("intent %s panicked: %v", in.Type, r)
			metrics.SetErrorStage("panic")
			h.raiseException(ctx, connectionID, err, string(debug.Stack()))
			metrics.Log(err)
			return
		}
		metrics.Log(err)
		if err != nil {
			h.raiseException(ctx, connectionID, err, "")
		}
	}()

	switch in.Type {
	case domain.IntentLogin:
		err = h.login(ctx, connectionID, in, metrics)
	case domain.IntentGetTasksForUser:
		err = h.getTasksForUser(ctx, connectionID, in)
	case domain.IntentAddTask:
		err = h.addTask(ctx, connectionID, in, metrics)
	case domain.IntentUpdateTask:
		err = h.updateTask(ctx, connectionID, in, metrics)
	case domain.IntentDeleteTask:
		err = h.deleteTask(ctx, connectionID, in, metrics)
	default:
		metrics.SetErrorStage("unknown_intent")
		err = fmt.Errorf("unknown intent %q", in.Type)
	}
}

func (h *Hub) login(ctx context.Context, connectionID string, in domain.Intent, metrics *intentMetrics) error {
	username, err := in.Username()
	if err != nil {
		metrics.SetErrorStage("decode")
		return err
	}
	if strings.TrimSpace(username) == "" {
		metrics.SetErrorStage("validation")
		return domain.ErrBlankUsername
	}

	if err := h.registry.Register(ctx, connectionID, username); err != nil {
		metrics.SetErrorStage("register")
		return err
	}

	hasTasks, err := h.store.HasTasks(ctx, username)
	if err != nil {
		metrics.SetErrorStage("storage")
		return err
	}
	if !hasTasks {
		welcome := domain.Task{
			Title:       welcomeTitle,
			Details:     welcomeDetails,
			AssignedTo:  username,
			Status:      domain.StatusOpen,
			DateCreated: time.Now().UTC(),
		}
		if err := h.store.InsertTask(ctx, &welcome); err != nil {
			metrics.SetErrorStage("storage")
			return err
		}
		h.logger.WithFields(log.Fields{"user": username, "task": welcome.TaskID}).Debug("seeded welcome task")
	}

	if err := h.sendTasksForUser(ctx, connectionID, username); err != nil {
		metrics.SetErrorStage("storage")
		return err
	}
	h.sendLogMessage(ctx, username+" has logged in")
	return nil
}

func (h *Hub) getTasksForUser(ctx context.Context, connectionID string, in domain.Intent) error {
	username, err := in.Username()
	if err != nil {
		return err
	}
	if strings.TrimSpace(username) == "" {
		return domain.ErrBlankUsername
	}
	return h.sendTasksForUser(ctx, connectionID, username)
}

func (h *Hub) sendTasksForUser(ctx context.Context, connectionID, username string) error {
	tasks, err := h.store.ActiveTasks(ctx, username)
	if err != nil {
		return err
	}
	return h.bcast.Caller(ctx, connectionID, domain.NewGotTasksForUser(tasks))
}

func (h *Hub) addTask(ctx context.Context, connectionID string, in domain.Intent, metrics *intentMetrics) error {
	task, err := in.Task()
	if err != nil {
		metrics.SetErrorStage("decode")
		return err
	}
	if task.TaskID != 0 {
		metrics.SetErrorStage("validation")
		return domain.ErrTaskIDAssigned
	}
	if err := task.Validate(); err != nil {
		metrics.SetErrorStage("validation")
		return err
	}

	actor := h.actor(ctx, connectionID)

	if h.deduper != nil && in.IdempotencyKey != "" {
		added, err := h.deduper.Add(ctx, actor, in.IdempotencyKey)
		if err != nil {
			metrics.SetErrorStage("dedupe")
			return err
		}
		if !added {
			h.logger.WithFields(log.Fields{"user": actor, "key": in.IdempotencyKey}).Debug("duplicate AddTask skipped")
			return nil
		}
	}

	task.DateCreated = time.Now().UTC()
	task.IsDeleted = false
	if err := h.store.InsertTask(ctx, &task); err != nil {
		if h.deduper != nil && in.IdempotencyKey != "" {
			if rerr := h.deduper.Remove(ctx, actor, in.IdempotencyKey); rerr != nil {
				h.logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, in.IdempotencyKey, actor)
			}
		}
		metrics.SetErrorStage("storage")
		return err
	}

	if err := h.bcast.Group(ctx, task.AssignedTo, domain.NewAddedTask(task)); err != nil {
		metrics.SetErrorStage("broadcast")
		return err
	}
	h.sendLogMessage(ctx, fmt.Sprintf("%s has added task '%s'.", actor, task.Title))
	h.submitAudit(domain.AuditRecord{Actor: actor, Intent: in.Type, TaskID: task.TaskID, Title: task.Title, AssignedTo: task.AssignedTo})
	return nil
}

func (h *Hub) updateTask(ctx context.Context, connectionID string, in domain.Intent, metrics *intentMetrics) error {
	task, err := in.Task()
	if err != nil {
		metrics.SetErrorStage("decode")
		return err
	}
	if task.TaskID == 0 {
		metrics.SetErrorStage("validation")
		return domain.ErrTaskIDRequired
	}
	if err := task.Validate(); err != nil {
		metrics.SetErrorStage("validation")
		return err
	}

	existing, err := h.store.GetTask(ctx, task.TaskID)
	if err != nil {
		metrics.SetErrorStage("storage")
		return err
	}
	if existing == nil {
		metrics.SetErrorStage("not_found")
		return domain.ErrTaskNotFound
	}

	// TaskID and DateCreated stay as stored; everything the client may edit
	// is copied over.
	existing.AssignedTo = task.AssignedTo
	existing.Details = task.Details
	existing.Status = task.Status
	existing.Title = task.Title

	if err := h.store.UpdateTask(ctx, *existing); err != nil {
		metrics.SetErrorStage("storage")
		return err
	}

	if err := h.bcast.Group(ctx, existing.AssignedTo, domain.NewUpdatedTask(*existing)); err != nil {
		metrics.SetErrorStage("broadcast")
		return err
	}
	actor := h.actor(ctx, connectionID)
	h.sendLogMessage(ctx, fmt.Sprintf("%s has updated task '%s'.", actor, existing.Title))
	h.submitAudit(domain.AuditRecord{Actor: actor, Intent: in.Type, TaskID: existing.TaskID, Title: existing.Title, AssignedTo: existing.AssignedTo})
	return nil
}

func (h *Hub) deleteTask(ctx context.Context, connectionID string, in domain.Intent, metrics *intentMetrics) error {
	task, err := in.Task()
	if err != nil {
		metrics.SetErrorStage("decode")
		return err
	}
	if task.TaskID == 0 {
		metrics.SetErrorStage("validation")
		return domain.ErrTaskIDRequired
	}

	deleted, err := h.store.SoftDeleteTask(ctx, task.TaskID)
	if err != nil {
		metrics.SetErrorStage("storage")
		return err
	}

	// The delete event is routed to the group the submitting client believes
	// owns the task, carrying the stored row. A stale AssignedTo on the
	// intent only changes routing, never the persisted state.
	group := task.AssignedTo
	if group == "" {
		group = deleted.AssignedTo
	}
	if err := h.bcast.Group(ctx, group, domain.NewDeletedTask(*deleted)); err != nil {
		metrics.SetErrorStage("broadcast")
		return err
	}
	actor := h.actor(ctx, connectionID)
	h.sendLogMessage(ctx, fmt.Sprintf("%s has deleted task '%s'.", actor, deleted.Title))
	h.submitAudit(domain.AuditRecord{Actor: actor, Intent: in.Type, TaskID: deleted.TaskID, Title: deleted.Title, AssignedTo: deleted.AssignedTo})
	return nil
}

// Disconnect tears down the registry entry for a closed connection and tells
// everyone about it. Connections that never logged in disappear silently.
func (h *Hub) Disconnect(ctx context.Context, connectionID string) {
	username, ok, err := h.registry.Lookup(ctx, connectionID)
	if err != nil {
		h.logger.Errorf("disconnect lookup failed for %s: %v", connectionID, err)
		return
	}
	if !ok {
		return
	}
	if err := h.registry.Remove(ctx, connectionID); err != nil {
		h.logger.Errorf("disconnect remove failed for %s: %v", connectionID, err)
		return
	}
	h.sendLogMessage(ctx, username+" has disconnected.")
}

func (h *Hub) actor(ctx context.Context, connectionID string) string {
	username, ok, err := h.registry.Lookup(ctx, connectionID)
	if err != nil {
		h.logger.Errorf("actor lookup failed for %s: %v", connectionID, err)
	}
	if !ok {
		return "an unknown user"
	}
	return username
}

func (h *Hub) sendLogMessage(ctx context.Context, message string) {
	if err := h.bcast.All(ctx, domain.NewGotLogMessage(message)); err != nil {
		h.logger.Errorf("log broadcast failed: %v", err)
	}
}

func (h *Hub) submitAudit(rec domain.AuditRecord) {
	if h.audit == nil {
		return
	}
	rec.Time = time.Now().UnixNano()
	if !h.audit.Submit(rec) {
		h.logger.WithFields(log.Fields{"intent": rec.Intent, "task": rec.TaskID}).Warn("audit record dropped")
	}
}

func (h *Hub) raiseException(ctx context.Context, connectionID string, err error, stack string) {
	ev := domain.ErrorEvent{Message: err.Error(), StackTrace: stack}
	if berr := h.bcast.Caller(ctx, connectionID, domain.NewHandleException(ev)); berr != nil {
		h.logger.Errorf("exception push failed for %s: %v", connectionID, berr)
	}
}
