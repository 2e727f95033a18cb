package board

import (
	"sync"

	"github.com/Mehedi107/job-task/domain"
)

// TaskForm holds the state of the add/edit task form.
type TaskForm struct {
	mu         sync.Mutex
	existingID string
	draft      domain.Task
}

// Open loads task into the form, or the defaults for a new task when task is
// nil.
func (f *TaskForm) Open(task *domain.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task == nil {
		f.existingID = ""
		f.draft = domain.Task{Category: domain.CategoryToDo}
		return
	}
	f.existingID = task.ID
	f.draft = *task
}

// Draft returns the current form contents.
func (f *TaskForm) Draft() domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.draft
	if d.Category == "" {
		d.Category = domain.CategoryToDo
	}
	return d
}

// Edit replaces the editable fields of the draft.
func (f *TaskForm) Edit(title, description string, category domain.Category) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft.Title = title
	f.draft.Description = description
	f.draft.Category = category
}

// ExistingID is the id of the task being edited, empty for a new task.
func (f *TaskForm) ExistingID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existingID
}

// Reset clears the form back to a new To-Do task.
func (f *TaskForm) Reset() {
	f.Open(nil)
}
