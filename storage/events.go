package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Mehedi107/job-task/domain"
)

// Publisher delivers change events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueuePublisher enqueues change events on an Azure Storage queue.
type QueuePublisher struct {
	queue queueClient
}

// NewQueuePublisher creates a publisher for the named queue.
func NewQueuePublisher(connStr, queueName string) (*QueuePublisher, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{queue: q}, nil
}

func (p *QueuePublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Notifier publishes a change event after each successful mutation of the
// wrapped Backend. Publish failures are logged and never returned.
type Notifier struct {
	base   Backend
	pub    Publisher
	logger *log.Logger
}

// NewNotifier wraps base so that mutations are published through pub.
func NewNotifier(base Backend, pub Publisher, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Notifier{base: base, pub: pub, logger: logger}
}

func (n *Notifier) CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (domain.Task, error) {
	task, err := n.base.CreateTask(ctx, title, description, category, owner)
	if err != nil {
		return domain.Task{}, err
	}
	n.publish(ctx, domain.ChangeEvent{Type: domain.TaskCreated, EntityID: task.ID, Owner: task.Owner, Task: &task})
	return task, nil
}

func (n *Notifier) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	return n.base.ListTasks(ctx, owner)
}

func (n *Notifier) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return n.base.GetTask(ctx, id)
}

func (n *Notifier) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	task, err := n.base.UpdateTask(ctx, id, fields)
	if err != nil {
		return domain.Task{}, err
	}
	if !fields.IsEmpty() {
		n.publish(ctx, domain.ChangeEvent{Type: domain.TaskUpdated, EntityID: task.ID, Owner: task.Owner, Task: &task})
	}
	return task, nil
}

func (n *Notifier) DeleteTask(ctx context.Context, id string) (domain.DeleteResult, error) {
	res, err := n.base.DeleteTask(ctx, id)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if res.DeletedCount > 0 {
		n.publish(ctx, domain.ChangeEvent{Type: domain.TaskDeleted, EntityID: id, Owner: res.Owner})
	}
	return res, nil
}

func (n *Notifier) UpsertUser(ctx context.Context, u domain.User) (domain.UpsertResult, error) {
	res, err := n.base.UpsertUser(ctx, u)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	if res.Created {
		user := res.User
		n.publish(ctx, domain.ChangeEvent{Type: domain.UserCreated, EntityID: user.Email, Owner: user.Email, User: &user})
	}
	return res, nil
}

func (n *Notifier) publish(ctx context.Context, ev domain.ChangeEvent) {
	if n.pub == nil {
		return
	}
	ev.Timestamp = nextTimestamp()
	if err := n.pub.Publish(ctx, ev); err != nil {
		n.logger.WithFields(log.Fields{"type": ev.Type, "entity": ev.EntityID}).WithError(err).Warn("publish change event failed")
	}
}

var lastTimestamp int64

// nextTimestamp returns a strictly increasing nanosecond timestamp.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
