package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Mehedi107/job-task/domain"
)

// Cache wraps a Backend with Redis-backed caching of task lists. Every
// successful mutation evicts the affected owner's list and bumps the owner's
// version, so a list read that overlaps a mutation is never written back.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, owner); ok {
		return tasks, nil
	}

	version, versionErr := c.version(ctx, owner)
	tasks, err := c.base.ListTasks(ctx, owner)
	if err != nil {
		return nil, err
	}

	if versionErr == nil {
		c.storeTasks(ctx, owner, version, tasks)
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (domain.Task, error) {
	task, err := c.base.CreateTask(ctx, title, description, category, owner)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, task.Owner)
	return task, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	var previousOwner string
	if fields.Owner != nil {
		if prev, err := c.base.GetTask(ctx, id); err == nil {
			previousOwner = prev.Owner
		}
	}
	task, err := c.base.UpdateTask(ctx, id, fields)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, task.Owner, previousOwner)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) (domain.DeleteResult, error) {
	res, err := c.base.DeleteTask(ctx, id)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if res.DeletedCount > 0 {
		c.evict(ctx, res.Owner)
	}
	return res, nil
}

func (c *Cache) UpsertUser(ctx context.Context, u domain.User) (domain.UpsertResult, error) {
	return c.base.UpsertUser(ctx, u)
}

func (c *Cache) loadTasksFromCache(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil || owner == "" {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

var errStaleList = errors.New("task list changed while loading")

// version returns the owner's mutation counter, 0 when never mutated.
func (c *Cache) version(ctx context.Context, owner string) (int64, error) {
	if c.redis == nil {
		return 0, errors.New("no redis client")
	}
	v, err := c.redis.Get(ctx, tasksVersionKey(owner)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// storeTasks writes the list only if the owner's version still equals the
// one read before the backend was queried.
func (c *Cache) storeTasks(ctx context.Context, owner string, version int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 || owner == "" {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	versionKey := tasksVersionKey(owner)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != version {
			return errStaleList
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey(owner), data, c.ttl)
			return nil
		})
		return err
	}, versionKey)
}

func (c *Cache) evict(ctx context.Context, owners ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range owners {
			if o == "" {
				continue
			}
			pipe.Incr(ctx, tasksVersionKey(o))
			pipe.Del(ctx, tasksCacheKey(o))
		}
		return nil
	})
}

func tasksCacheKey(owner string) string {
	return "tasks:" + owner
}

func tasksVersionKey(owner string) string {
	return "tasks-version:" + owner
}
