package domain

import "encoding/json"

// Intent types a client may send to the hub.
const (
	IntentLogin           = "Login"
	IntentGetTasksForUser = "GetTasksForUser"
	IntentAddTask         = "AddTask"
	IntentUpdateTask      = "UpdateTask"
	IntentDeleteTask      = "DeleteTask"
)

// Event types the hub pushes to clients.
const (
	EventGotTasksForUser = "GotTasksForUser"
	EventAddedTask       = "AddedTask"
	EventUpdatedTask     = "UpdatedTask"
	EventDeletedTask     = "DeletedTask"
	EventGotLogMessage   = "GotLogMessage"
	EventHandleException = "HandleException"
)

// Intent is a client request to mutate or query server state. Data carries
// the type-specific payload: a JSON string for Login and GetTasksForUser, a
// Task for the rest.
type Intent struct {
	Type           string          `json:"Type"`
	Data           json.RawMessage `json:"Data,omitempty"`
	IdempotencyKey string          `json:"IdempotencyKey,omitempty"`
}

// Event is a hub push. Data carries the type-specific payload: a Task list
// for GotTasksForUser, a Task for the task events, a LogMessage or ErrorEvent
// otherwise.
type Event struct {
	Type string          `json:"Type"`
	Data json.RawMessage `json:"Data,omitempty"`
}

// LogMessage is the payload of GotLogMessage events.
type LogMessage struct {
	Message string `json:"Message"`
}

// ErrorEvent is the payload of HandleException events.
type ErrorEvent struct {
	Message    string `json:"Message"`
	StackTrace string `json:"StackTrace,omitempty"`
}

func mustEvent(eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Every payload type above marshals unconditionally.
		panic(err)
	}
	return Event{Type: eventType, Data: data}
}

// NewGotTasksForUser builds the full-sync event for a user's task list.
func NewGotTasksForUser(tasks []Task) Event {
	if tasks == nil {
		tasks = []Task{}
	}
	return mustEvent(EventGotTasksForUser, tasks)
}

func NewAddedTask(t Task) Event   { return mustEvent(EventAddedTask, t) }
func NewUpdatedTask(t Task) Event { return mustEvent(EventUpdatedTask, t) }
func NewDeletedTask(t Task) Event { return mustEvent(EventDeletedTask, t) }

func NewGotLogMessage(message string) Event {
	return mustEvent(EventGotLogMessage, LogMessage{Message: message})
}

func NewHandleException(ev ErrorEvent) Event {
	return mustEvent(EventHandleException, ev)
}

// TaskPayload unmarshals the event payload as a single task.
func (e Event) TaskPayload() (Task, error) {
	var t Task
	err := json.Unmarshal(e.Data, &t)
	return t, err
}

// TasksPayload unmarshals the event payload as a task list.
func (e Event) TasksPayload() ([]Task, error) {
	var tasks []Task
	err := json.Unmarshal(e.Data, &tasks)
	return tasks, err
}

// LogPayload unmarshals the event payload as a log message.
func (e Event) LogPayload() (LogMessage, error) {
	var m LogMessage
	err := json.Unmarshal(e.Data, &m)
	return m, err
}

// ErrorPayload unmarshals the event payload as an error event.
func (e Event) ErrorPayload() (ErrorEvent, error) {
	var ev ErrorEvent
	err := json.Unmarshal(e.Data, &ev)
	return ev, err
}

// NewUsernameIntent builds a Login or GetTasksForUser intent.
func NewUsernameIntent(intentType, username string) Intent {
	data, err := json.Marshal(username)
	if err != nil {
		// Strings marshal unconditionally.
		panic(err)
	}
	return Intent{Type: intentType, Data: data}
}

// NewTaskIntent builds an AddTask, UpdateTask or DeleteTask intent.
func NewTaskIntent(intentType string, t Task) Intent {
	data, err := json.Marshal(t)
	if err != nil {
		panic(err)
	}
	return Intent{Type: intentType, Data: data}
}

// Username unmarshals the intent payload as a plain username string.
func (in Intent) Username() (string, error) {
	var u string
	if err := json.Unmarshal(in.Data, &u); err != nil {
		return "", err
	}
	return u, nil
}

// Task unmarshals the intent payload as a task.
func (in Intent) Task() (Task, error) {
	var t Task
	err := json.Unmarshal(in.Data, &t)
	return t, err
}

// AuditRecord describes one applied mutation for the audit trail.
type AuditRecord struct {
	Actor      string `json:"actor"`
	Intent     string `json:"intent"`
	TaskID     int64  `json:"taskId,omitempty"`
	Title      string `json:"title,omitempty"`
	AssignedTo string `json:"assignedTo,omitempty"`
	Time       int64  `json:"time"`
}
