package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Mehedi107/job-task/domain"
)

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) events(t *testing.T) []domain.ChangeEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChangeEvent, 0, len(f.messages))
	for _, m := range f.messages {
		var ev domain.ChangeEvent
		if err := sonic.UnmarshalString(m, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestNotifierPublishesMutations(t *testing.T) {
	s, _, _ := newTestStorage()
	q := &fakeQueue{}
	n := NewNotifier(s, &QueuePublisher{queue: q}, nil)
	ctx := context.Background()

	task, err := n.CreateTask(ctx, "t", "", "", "a@x.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done := domain.CategoryDone
	if _, err := n.UpdateTask(ctx, task.ID, domain.TaskFields{Category: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := n.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := n.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := n.UpsertUser(ctx, domain.User{Email: "a@x.com"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := n.UpsertUser(ctx, domain.User{Email: "a@x.com"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	events := q.events(t)
	wantTypes := []string{domain.TaskCreated, domain.TaskUpdated, domain.TaskDeleted, domain.UserCreated}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %#v", len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, events[i].Type)
		}
		if i > 0 && events[i].Timestamp <= events[i-1].Timestamp {
			t.Fatalf("expected increasing timestamps, got %d after %d", events[i].Timestamp, events[i-1].Timestamp)
		}
	}
	if events[1].Task == nil || events[1].Task.Category != domain.CategoryDone {
		t.Fatalf("expected updated task in event, got %#v", events[1].Task)
	}
	if events[2].Owner != "a@x.com" || events[2].EntityID != task.ID {
		t.Fatalf("unexpected delete event: %#v", events[2])
	}
}

func TestNotifierSwallowsPublishErrors(t *testing.T) {
	s, _, _ := newTestStorage()
	logger, hook := test.NewNullLogger()
	n := NewNotifier(s, &QueuePublisher{queue: &fakeQueue{err: errors.New("queue down")}}, logger)

	if _, err := n.CreateTask(context.Background(), "t", "", "", "a@x.com"); err != nil {
		t.Fatalf("expected create to succeed despite publish failure: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warning log, got %#v", entry)
	}
	if entry.Data["type"] != domain.TaskCreated {
		t.Fatalf("unexpected log fields: %#v", entry.Data)
	}
}

func TestNotifierSkipsFailedMutations(t *testing.T) {
	s, _, _ := newTestStorage()
	q := &fakeQueue{}
	n := NewNotifier(s, &QueuePublisher{queue: q}, nil)

	if _, err := n.CreateTask(context.Background(), "", "", "", "a@x.com"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(q.messages) != 0 {
		t.Fatalf("expected no events, got %v", q.messages)
	}
}
