package api

import (
	"context"
	"sync"

	"taskr/domain"
)

type stubAuth struct {
	subject string
	err     error
}

func (s *stubAuth) UserIDFromAuthHeader(string) (string, error) {
	return s.subject, s.err
}

type memStore struct {
	mu     sync.Mutex
	tasks  []domain.Task
	conns  map[string]domain.ConnectedUser
	nextID int64

	listErr error
}

func newMemStore() *memStore {
	return &memStore{conns: map[string]domain.ConnectedUser{}}
}

func (m *memStore) ActiveTasks(ctx context.Context, username string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Task
	for _, t := range m.tasks {
		if t.AssignedTo == username && !t.IsDeleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) HasTasks(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.AssignedTo == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.TaskID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertTask(ctx context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.TaskID = m.nextID
	m.tasks = append(m.tasks, *t)
	return nil
}

func (m *memStore) UpdateTask(ctx context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].TaskID == t.TaskID {
			m.tasks[i] = t
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (m *memStore) SoftDeleteTask(ctx context.Context, id int64) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].TaskID == id && !m.tasks[i].IsDeleted {
			m.tasks[i].IsDeleted = true
			cp := m.tasks[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrTaskNotFound
}

func (m *memStore) GetConnectedUser(ctx context.Context, connectionID string) (*domain.ConnectedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cu, ok := m.conns[connectionID]
	if !ok {
		return nil, nil
	}
	return &cu, nil
}

func (m *memStore) InsertConnectedUser(ctx context.Context, cu domain.ConnectedUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[cu.ConnectionID]; exists {
		return nil
	}
	m.conns[cu.ConnectionID] = cu
	return nil
}

func (m *memStore) RemoveConnectedUser(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connectionID)
	return nil
}
