package hub

import (
	"context"
	"fmt"
	"sync"

	"taskr/domain"
)

type fakeStore struct {
	mu     sync.Mutex
	tasks  []domain.Task
	conns  map[string]domain.ConnectedUser
	nextID int64

	insertErr error
	getErr    error
	listErr   error
	updateErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{conns: map[string]domain.ConnectedUser{}}
}

func (f *fakeStore) ActiveTasks(ctx context.Context, username string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Task
	for _, t := range f.tasks {
		if t.AssignedTo == username && !t.IsDeleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) HasTasks(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.AssignedTo == username {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, t := range f.tasks {
		if t.TaskID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	t.TaskID = f.nextID
	f.tasks = append(f.tasks, *t)
	return nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.tasks {
		if f.tasks[i].TaskID == t.TaskID {
			f.tasks[i] = t
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (f *fakeStore) SoftDeleteTask(ctx context.Context, id int64) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	for i := range f.tasks {
		if f.tasks[i].TaskID == id && !f.tasks[i].IsDeleted {
			f.tasks[i].IsDeleted = true
			cp := f.tasks[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrTaskNotFound
}

func (f *fakeStore) GetConnectedUser(ctx context.Context, connectionID string) (*domain.ConnectedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cu, ok := f.conns[connectionID]
	if !ok {
		return nil, nil
	}
	return &cu, nil
}

func (f *fakeStore) InsertConnectedUser(ctx context.Context, cu domain.ConnectedUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.conns[cu.ConnectionID]; exists {
		return nil
	}
	f.conns[cu.ConnectionID] = cu
	return nil
}

func (f *fakeStore) RemoveConnectedUser(ctx context.Context, connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, connectionID)
	return nil
}

func (f *fakeStore) storedTask(id int64) (domain.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

type sentEvent struct {
	connectionID string
	group        string
	event        domain.Event
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	caller []sentEvent
	group  []sentEvent
	all    []domain.Event
	joins  []sentEvent

	groupErr error
}

func (f *fakeBroadcaster) Caller(ctx context.Context, connectionID string, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caller = append(f.caller, sentEvent{connectionID: connectionID, event: ev})
	return nil
}

func (f *fakeBroadcaster) Group(ctx context.Context, group string, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groupErr != nil {
		return f.groupErr
	}
	f.group = append(f.group, sentEvent{group: group, event: ev})
	return nil
}

func (f *fakeBroadcaster) All(ctx context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, ev)
	return nil
}

func (f *fakeBroadcaster) Join(connectionID, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, sentEvent{connectionID: connectionID, group: group})
	return nil
}

func (f *fakeBroadcaster) callerEvents(connectionID string) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, s := range f.caller {
		if s.connectionID == connectionID {
			out = append(out, s.event)
		}
	}
	return out
}

func (f *fakeBroadcaster) lastException(connectionID string) (domain.ErrorEvent, bool) {
	for _, ev := range f.callerEvents(connectionID) {
		if ev.Type == domain.EventHandleException {
			payload, err := ev.ErrorPayload()
			if err != nil {
				panic(fmt.Sprintf("bad exception payload: %v", err))
			}
			return payload, true
		}
	}
	return domain.ErrorEvent{}, false
}

type fakeDeduper struct {
	seen    map[string]bool
	addErr  error
	removed []string
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: map[string]bool{}}
}

func (f *fakeDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	if f.addErr != nil {
		return false, f.addErr
	}
	k := userID + ":" + key
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	return true, nil
}

func (f *fakeDeduper) Remove(ctx context.Context, userID, key string) error {
	k := userID + ":" + key
	delete(f.seen, k)
	f.removed = append(f.removed, k)
	return nil
}

type fakeAudit struct {
	records []domain.AuditRecord
	full    bool
}

func (f *fakeAudit) Submit(rec domain.AuditRecord) bool {
	if f.full {
		return false
	}
	f.records = append(f.records, rec)
	return true
}
