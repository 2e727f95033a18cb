package storage

import (
	"context"

	"github.com/Mehedi107/job-task/domain"
)

// Backend is the task and user store contract shared by Storage, SQLStore
// and the decorators in this package.
type Backend interface {
	CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (domain.Task, error)
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) (domain.DeleteResult, error)
	UpsertUser(ctx context.Context, u domain.User) (domain.UpsertResult, error)
}

var (
	_ Backend = (*Storage)(nil)
	_ Backend = (*SQLStore)(nil)
	_ Backend = (*Cache)(nil)
	_ Backend = (*Notifier)(nil)
)
