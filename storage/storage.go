package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskr/domain"
)

const (
	taskPartition = "task"

	counterPartition = "counter"
	counterRowKey    = "task-id"

	edmInt64 = "Edm.Int64"
)

// Storage provides access to underlying persistence mechanisms: one table for
// tasks, one for connected users.
type Storage struct {
	taskTable *aztables.Client
	connTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, connectionsTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable: svc.NewClient(tasksTable),
		connTable: svc.NewClient(connectionsTable),
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Details     string `json:"Details"`
	AssignedTo  string `json:"AssignedTo"`
	Status      string `json:"Status"`
	DateCreated string `json:"DateCreated"`
	IsDeleted   bool   `json:"IsDeleted"`
}

type counterEntity struct {
	aztables.Entity
	Value     int64  `json:"Value,string"`
	ValueType string `json:"Value@odata.type"`
}

type connectionEntity struct {
	aztables.Entity
	Username string `json:"Username"`
}

// rowKeyForID zero-pads task ids so the table's natural row order matches
// insertion order.
func rowKeyForID(id int64) string {
	return fmt.Sprintf("%012d", id)
}

func idFromRowKey(rk string) (int64, error) {
	return strconv.ParseInt(strings.TrimLeft(rk, "0"), 10, 64)
}

// escapeFilterValue doubles single quotes for use inside an OData filter literal.
func escapeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func taskFromEntity(ent taskEntity) (domain.Task, error) {
	id, err := idFromRowKey(ent.RowKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("bad task row key %q: %w", ent.RowKey, err)
	}
	created, err := time.Parse(time.RFC3339Nano, ent.DateCreated)
	if err != nil {
		return domain.Task{}, fmt.Errorf("bad DateCreated on task %d: %w", id, err)
	}
	return domain.Task{
		TaskID:      id,
		Title:       ent.Title,
		Details:     ent.Details,
		AssignedTo:  ent.AssignedTo,
		Status:      ent.Status,
		DateCreated: created,
		IsDeleted:   ent.IsDeleted,
	}, nil
}

func entityFromTask(t domain.Task) taskEntity {
	return taskEntity{
		Entity: aztables.Entity{
			PartitionKey: taskPartition,
			RowKey:       rowKeyForID(t.TaskID),
		},
		Title:       t.Title,
		Details:     t.Details,
		AssignedTo:  t.AssignedTo,
		Status:      t.Status,
		DateCreated: t.DateCreated.UTC().Format(time.RFC3339Nano),
		IsDeleted:   t.IsDeleted,
	}
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// ActiveTasks retrieves all non-deleted tasks assigned to username, in
// insertion order.
func (s *Storage) ActiveTasks(ctx context.Context, username string) ([]domain.Task, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and AssignedTo eq '%s' and IsDeleted eq false",
		taskPartition, escapeFilterValue(username))
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			task, err := taskFromEntity(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// HasTasks reports whether username ever had a task assigned, soft-deleted
// rows included.
func (s *Storage) HasTasks(ctx context.Context, username string) (bool, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and AssignedTo eq '%s'",
		taskPartition, escapeFilterValue(username))
	top := int32(1)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return false, err
		}
		if len(resp.Entities) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// GetTask retrieves a task if present.
func (s *Storage) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, taskPartition, rowKeyForID(id), nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var te taskEntity
	if err := json.Unmarshal(ent.Value, &te); err != nil {
		return nil, err
	}
	task, err := taskFromEntity(te)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// InsertTask allocates a TaskID and persists the task.
func (s *Storage) InsertTask(ctx context.Context, t *domain.Task) error {
	id, err := s.nextTaskID(ctx)
	if err != nil {
		return err
	}
	t.TaskID = id
	payload, err := json.Marshal(entityFromTask(*t))
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateTask replaces the stored fields of an existing task.
func (s *Storage) UpdateTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(entityFromTask(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeMerge,
	})
	if isStatus(err, 404) {
		return domain.ErrTaskNotFound
	}
	return err
}

// SoftDeleteTask marks a task deleted and returns the stored row. The row is
// retained for audit.
func (s *Storage) SoftDeleteTask(ctx context.Context, id int64) (*domain.Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrTaskNotFound
	}
	task.IsDeleted = true
	if err := s.UpdateTask(ctx, *task); err != nil {
		return nil, err
	}
	return task, nil
}

// nextTaskID increments the id counter entity under ETag protection,
// retrying while other writers race on it.
func (s *Storage) nextTaskID(ctx context.Context) (int64, error) {
	for {
		id, err := s.incrementCounter(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return 0, err
		}
	}
}

func (s *Storage) incrementCounter(ctx context.Context) (int64, error) {
	resp, err := s.taskTable.GetEntity(ctx, counterPartition, counterRowKey, nil)
	if err != nil {
		if !isStatus(err, 404) {
			return 0, err
		}
		ent := counterEntity{
			Entity:    aztables.Entity{PartitionKey: counterPartition, RowKey: counterRowKey},
			Value:     1,
			ValueType: edmInt64,
		}
		payload, merr := json.Marshal(ent)
		if merr != nil {
			return 0, merr
		}
		if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
			if isStatus(err, 409) {
				return 0, domain.ErrConcurrencyConflict
			}
			return 0, err
		}
		return 1, nil
	}

	var counter counterEntity
	if err := json.Unmarshal(resp.Value, &counter); err != nil {
		return 0, err
	}
	counter.Value++
	counter.ValueType = edmInt64
	payload, err := json.Marshal(counter)
	if err != nil {
		return 0, err
	}
	et := resp.ETag
	if _, err := s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeReplace,
	}); err != nil {
		if isStatus(err, 412) {
			return 0, domain.ErrConcurrencyConflict
		}
		return 0, err
	}
	return counter.Value, nil
}

// GetConnectedUser retrieves the login record for a connection if present.
func (s *Storage) GetConnectedUser(ctx context.Context, connectionID string) (*domain.ConnectedUser, error) {
	ent, err := s.connTable.GetEntity(ctx, connectionID, connectionID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var ce connectionEntity
	if err := json.Unmarshal(ent.Value, &ce); err != nil {
		return nil, err
	}
	return &domain.ConnectedUser{ConnectionID: ce.RowKey, Username: ce.Username}, nil
}

// InsertConnectedUser persists a login record. Inserting a connection that
// already exists is a no-op.
func (s *Storage) InsertConnectedUser(ctx context.Context, cu domain.ConnectedUser) error {
	ent := connectionEntity{
		Entity:   aztables.Entity{PartitionKey: cu.ConnectionID, RowKey: cu.ConnectionID},
		Username: cu.Username,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.connTable.AddEntity(ctx, payload, nil)
	if isStatus(err, 409) {
		return nil
	}
	return err
}

// RemoveConnectedUser deletes a login record. Removing an unknown connection
// is a no-op.
func (s *Storage) RemoveConnectedUser(ctx context.Context, connectionID string) error {
	_, err := s.connTable.DeleteEntity(ctx, connectionID, connectionID, nil)
	if isStatus(err, 404) {
		return nil
	}
	return err
}
