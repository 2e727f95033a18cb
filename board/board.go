package board

import (
	"context"
	"fmt"
	"slices"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Mehedi107/job-task/domain"
)

// DropEvent describes a finished drag: ActiveID is the dragged task and
// OverID the column it was released over, empty when outside any column.
type DropEvent struct {
	ActiveID string
	OverID   string
}

// Board is the client data layer of the task board. It caches the task list
// of the signed-in owner and drops the cache after every mutation.
type Board struct {
	client *Client
	logger *log.Logger
	form   TaskForm
	loads  singleflight.Group

	mu      sync.Mutex
	session Session
	cache   map[string][]domain.Task
	gen     uint64
}

// New creates a signed-out Board. A nil logger uses the standard logger.
func New(client *Client, logger *log.Logger) *Board {
	if client == nil {
		panic("board: nil client")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	b := &Board{
		client: client,
		logger: logger,
		cache:  make(map[string][]domain.Task),
	}
	b.form.Reset()
	return b
}

// Session returns the current session.
func (b *Board) Session() Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Form returns the edit form state.
func (b *Board) Form() *TaskForm {
	return &b.form
}

// SignIn registers the user with the API and makes sess current. Registering
// an already known user is not an error.
func (b *Board) SignIn(ctx context.Context, sess Session) error {
	if !sess.SignedIn() {
		return domain.Validation("email is required")
	}
	u := domain.User{Email: sess.Email, Name: sess.Name, Photo: sess.PhotoURL}
	created, err := b.client.WithBearer(sess.Token).SaveUser(ctx, u)
	if err != nil {
		b.logger.WithError(err).WithField("email", sess.Email).Error("sign in failed")
		return err
	}
	b.logger.WithFields(log.Fields{"email": sess.Email, "created": created}).Debug("signed in")

	b.mu.Lock()
	b.session = sess
	b.dropCacheLocked()
	b.mu.Unlock()
	return nil
}

// SignOut clears the session and the cached tasks.
func (b *Board) SignOut() {
	b.mu.Lock()
	b.session = Session{}
	b.dropCacheLocked()
	b.mu.Unlock()
	b.form.Reset()
}

// LoadTasks returns the signed-in owner's tasks. It returns an empty list
// without a request when nobody is signed in.
func (b *Board) LoadTasks(ctx context.Context) ([]domain.Task, error) {
	b.mu.Lock()
	sess := b.session
	gen := b.gen
	cached, ok := b.cache[sess.Email]
	b.mu.Unlock()

	if !sess.SignedIn() {
		return []domain.Task{}, nil
	}
	if ok {
		return slices.Clone(cached), nil
	}

	key := fmt.Sprintf("%s#%d", sess.Email, gen)
	ch := b.loads.DoChan(key, func() (any, error) {
		// detached from cancellation: the result is shared by every waiter
		tasks, err := b.client.WithBearer(sess.Token).ListTasks(context.WithoutCancel(ctx), sess.Email)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		if b.gen == gen && b.session.Email == sess.Email {
			b.cache[sess.Email] = tasks
		}
		b.mu.Unlock()
		return tasks, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		b.logger.WithError(res.Err).WithField("email", sess.Email).Error("load tasks failed")
		return nil, res.Err
	}
	return slices.Clone(res.Val.([]domain.Task)), nil
}

// Columns loads the tasks and partitions them into board columns.
func (b *Board) Columns(ctx context.Context) ([]Column, error) {
	tasks, err := b.LoadTasks(ctx)
	if err != nil {
		return nil, err
	}
	return Partition(tasks), nil
}

// SaveTask updates task existingID with draft, or creates a new task owned
// by the signed-in user when existingID is empty. On success the cache is
// dropped and the form is reset.
func (b *Board) SaveTask(ctx context.Context, draft domain.Task, existingID string) error {
	sess := b.Session()
	if !sess.SignedIn() {
		return domain.Validation("sign in required")
	}
	if draft.Category == "" {
		draft.Category = domain.CategoryToDo
	}
	client := b.client.WithBearer(sess.Token)

	var err error
	if existingID != "" {
		fields := domain.TaskFields{
			Title:       &draft.Title,
			Description: &draft.Description,
			Category:    &draft.Category,
		}
		_, err = client.UpdateTask(ctx, existingID, fields)
	} else {
		_, err = client.CreateTask(ctx, draft.Title, draft.Description, draft.Category, sess.Email)
	}
	if err != nil {
		b.logger.WithError(err).WithField("task", existingID).Error("save task failed")
		return err
	}

	b.invalidate()
	b.form.Reset()
	return nil
}

// RemoveTask deletes task id. The cache is dropped when a task was removed.
func (b *Board) RemoveTask(ctx context.Context, id string) error {
	sess := b.Session()
	n, err := b.client.WithBearer(sess.Token).DeleteTask(ctx, id)
	if err != nil {
		b.logger.WithError(err).WithField("task", id).Error("remove task failed")
		return err
	}
	if n > 0 {
		b.invalidate()
	}
	return nil
}

// Recategorize moves task taskID to the target column. It is a no-op for an
// empty target and for a task that is unknown or already in target.
func (b *Board) Recategorize(ctx context.Context, taskID string, target domain.Category) error {
	if target == "" {
		return nil
	}
	tasks, err := b.LoadTasks(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(tasks, func(t domain.Task) bool { return t.ID == taskID })
	if idx < 0 || tasks[idx].Category == target {
		return nil
	}

	sess := b.Session()
	if _, err := b.client.WithBearer(sess.Token).UpdateTask(ctx, taskID, domain.TaskFields{Category: &target}); err != nil {
		b.logger.WithError(err).WithFields(log.Fields{"task": taskID, "category": target}).Error("recategorize failed")
		return err
	}
	b.invalidate()
	return nil
}

// HandleDragEnd applies a finished drag to the board.
func (b *Board) HandleDragEnd(ctx context.Context, ev DropEvent) error {
	if ev.OverID == "" || ev.OverID == ev.ActiveID {
		return nil
	}
	return b.Recategorize(ctx, ev.ActiveID, domain.Category(ev.OverID))
}

func (b *Board) invalidate() {
	b.mu.Lock()
	b.dropCacheLocked()
	b.mu.Unlock()
}

func (b *Board) dropCacheLocked() {
	b.gen++
	clear(b.cache)
}
