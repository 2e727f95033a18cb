package api

import (
	"context"

	"github.com/Mehedi107/job-task/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (domain.Task, error)
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) (domain.DeleteResult, error)
	UpsertUser(ctx context.Context, u domain.User) (domain.UpsertResult, error)
}

// Authenticator is implemented by types able to extract a verified email
// from an Authorization header.
type Authenticator interface {
	EmailFromAuthHeader(string) (string, error)
}
