package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/Mehedi107/job-task/domain"
)

// tableClient is the subset of *aztables.Client used by Storage.
type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Storage keeps tasks and users in Azure Table Storage.
type Storage struct {
	taskTable tableClient
	userTable tableClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable string) (*Storage, error) {
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
	return &Storage{taskTable: svc.NewClient(tasksTable), userTable: svc.NewClient(usersTable)}, nil
}

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Category    string `json:"Category"`
}

type userEntity struct {
	Entity
	Name  string `json:"Name"`
	Photo string `json:"Photo"`
}

func taskToEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:      Entity{PartitionKey: t.Owner, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Category:    string(t.Category),
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Owner:       ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Category:    domain.Category(ent.Category),
	}, nil
}

func decodeUserEntity(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{Email: ent.RowKey, Name: ent.Name, Photo: ent.Photo}, nil
}

// quote renders v as an OData string literal.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// CreateTask inserts a new task owned by owner.
func (s *Storage) CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (domain.Task, error) {
	task, err := domain.NewTask(title, description, category, owner)
	if err != nil {
		return domain.Task{}, err
	}
	task.ID = uuid.NewString()
	payload, err := sonic.Marshal(taskToEntity(task))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, classify(err)
	}
	return task, nil
}

// ListTasks retrieves all tasks for the provided owner.
func (s *Storage) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, domain.Validation("owner is required")
	}
	return s.queryTasks(ctx, "PartitionKey eq "+quote(owner))
}

func (s *Storage) queryTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// GetTask finds a task by id regardless of owner.
func (s *Storage) GetTask(ctx context.Context, id string) (domain.Task, error) {
	if id == "" {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	tasks, err := s.queryTasks(ctx, "RowKey eq "+quote(id))
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	return tasks[0], nil
}

// UpdateTask merges the supplied fields into the task with the given id.
// Changing the owner moves the entity to the new partition.
func (s *Storage) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	if err := fields.Validate(); err != nil {
		return domain.Task{}, err
	}
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	updated := current
	fields.Apply(&updated)
	if fields.IsEmpty() {
		return updated, nil
	}

	if updated.Owner != current.Owner {
		payload, err := sonic.Marshal(taskToEntity(updated))
		if err != nil {
			return domain.Task{}, err
		}
		if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
			return domain.Task{}, classify(err)
		}
		if _, err := s.taskTable.DeleteEntity(ctx, current.Owner, current.ID, nil); err != nil && !isNotFound(err) {
			return domain.Task{}, classify(err)
		}
		return updated, nil
	}

	payload, err := sonic.Marshal(taskToEntity(updated))
	if err != nil {
		return domain.Task{}, err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, domain.TaskNotFound(id)
		}
		return domain.Task{}, classify(err)
	}
	return updated, nil
}

// DeleteTask removes the task with the given id. A missing task is reported
// as zero deletions.
func (s *Storage) DeleteTask(ctx context.Context, id string) (domain.DeleteResult, error) {
	task, err := s.GetTask(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DeleteResult{}, nil
	}
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, task.Owner, task.ID, nil); err != nil {
		if isNotFound(err) {
			return domain.DeleteResult{}, nil
		}
		return domain.DeleteResult{}, classify(err)
	}
	return domain.DeleteResult{DeletedCount: 1, Owner: task.Owner}, nil
}

// UpsertUser records a user the first time its email is seen.
func (s *Storage) UpsertUser(ctx context.Context, u domain.User) (domain.UpsertResult, error) {
	if err := u.Validate(); err != nil {
		return domain.UpsertResult{}, err
	}
	resp, err := s.userTable.GetEntity(ctx, u.Email, u.Email, nil)
	if err == nil {
		existing, err := decodeUserEntity(resp.Value)
		if err != nil {
			return domain.UpsertResult{}, err
		}
		return domain.UpsertResult{User: existing}, nil
	}
	if !isNotFound(err) {
		return domain.UpsertResult{}, classify(err)
	}

	payload, err := sonic.Marshal(userEntity{
		Entity: Entity{PartitionKey: u.Email, RowKey: u.Email},
		Name:   u.Name,
		Photo:  u.Photo,
	})
	if err != nil {
		return domain.UpsertResult{}, err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		if isConflict(err) {
			return domain.UpsertResult{User: u}, nil
		}
		return domain.UpsertResult{}, classify(err)
	}
	return domain.UpsertResult{Created: true, User: u}, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}

// classify maps transport failures and server-side errors to
// domain.ErrStoreUnavailable. Client errors are returned unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode >= 500, respErr.StatusCode == http.StatusRequestTimeout, respErr.StatusCode == http.StatusTooManyRequests:
			return domain.Unavailable(err)
		default:
			return err
		}
	}
	return domain.Unavailable(err)
}
