package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskr/domain"
	"taskr/hub"
)

// Cache wraps a Store with Redis-backed caching of per-user active task
// lists. Mutations evict the lists they touch; everything else passes
// through.
type Cache struct {
	base  hub.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client
// and TTL.
func NewCache(base hub.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ActiveTasks(ctx context.Context, username string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, username); ok {
		return tasks, nil
	}

	tasks, err := c.base.ActiveTasks(ctx, username)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, username, tasks)
	return tasks, nil
}

func (c *Cache) HasTasks(ctx context.Context, username string) (bool, error) {
	return c.base.HasTasks(ctx, username)
}

func (c *Cache) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) InsertTask(ctx context.Context, t *domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.AssignedTo)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	// A reassignment changes two users' lists, so look up the previous
	// assignee before the write.
	previous, err := c.base.GetTask(ctx, t.TaskID)
	if err != nil {
		return err
	}
	if err := c.base.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.AssignedTo)
	if previous != nil && previous.AssignedTo != t.AssignedTo {
		c.evict(ctx, previous.AssignedTo)
	}
	return nil
}

func (c *Cache) SoftDeleteTask(ctx context.Context, id int64) (*domain.Task, error) {
	task, err := c.base.SoftDeleteTask(ctx, id)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, task.AssignedTo)
	return task, nil
}

func (c *Cache) GetConnectedUser(ctx context.Context, connectionID string) (*domain.ConnectedUser, error) {
	return c.base.GetConnectedUser(ctx, connectionID)
}

func (c *Cache) InsertConnectedUser(ctx context.Context, cu domain.ConnectedUser) error {
	return c.base.InsertConnectedUser(ctx, cu)
}

func (c *Cache) RemoveConnectedUser(ctx context.Context, connectionID string) error {
	return c.base.RemoveConnectedUser(ctx, connectionID)
}

func (c *Cache) loadTasksFromCache(ctx context.Context, username string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(username)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(username)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(username)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, username string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(username), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, username string) {
	if c.redis == nil || username == "" {
		return
	}
	_ = c.redis.Del(ctx, tasksCacheKey(username)).Err()
}

func tasksCacheKey(username string) string {
	return "tasks:" + username
}
