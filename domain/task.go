package domain

import "strings"

// Category is one of the fixed board columns a task occupies.
type Category string

const (
	CategoryToDo       Category = "To-Do"
	CategoryInProgress Category = "In Progress"
	CategoryDone       Category = "Done"
)

// Categories lists the board columns in display order.
var Categories = []Category{CategoryToDo, CategoryInProgress, CategoryDone}

// Known reports whether c is one of the board columns.
func (c Category) Known() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID          string   `json:"_id"`
	Owner       string   `json:"email"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
}

// TaskFields carries a partial update. Nil fields are left unchanged.
type TaskFields struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *Category `json:"category,omitempty"`
	Owner       *string   `json:"email,omitempty"`
}

// IsEmpty reports whether no field was supplied.
func (f TaskFields) IsEmpty() bool {
	return f.Title == nil && f.Description == nil && f.Category == nil && f.Owner == nil
}

// Apply merges the supplied fields into t.
func (f TaskFields) Apply(t *Task) {
	if f.Title != nil {
		t.Title = *f.Title
	}
	if f.Description != nil {
		t.Description = *f.Description
	}
	if f.Category != nil {
		t.Category = *f.Category
	}
	if f.Owner != nil {
		t.Owner = *f.Owner
	}
}

// NewTask validates the input and builds a task without an id.
func NewTask(title, description string, category Category, owner string) (Task, error) {
	if strings.TrimSpace(owner) == "" {
		return Task{}, Validation("owner is required")
	}
	if strings.TrimSpace(title) == "" {
		return Task{}, Validation("title is required")
	}
	if category == "" {
		category = CategoryToDo
	}
	return Task{
		Owner:       owner,
		Title:       title,
		Description: description,
		Category:    category,
	}, nil
}

// Validate performs the presence checks that apply to a partial update.
func (f TaskFields) Validate() error {
	if f.Title != nil && strings.TrimSpace(*f.Title) == "" {
		return Validation("title must not be empty")
	}
	if f.Owner != nil && strings.TrimSpace(*f.Owner) == "" {
		return Validation("owner must not be empty")
	}
	return nil
}

// DeleteResult reports the outcome of a delete.
type DeleteResult struct {
	DeletedCount int `json:"deletedCount"`
	// Owner of the removed task, empty when nothing was removed.
	Owner string `json:"-"`
}
