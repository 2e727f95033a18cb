package domain

// Event types published after a successful mutation.
const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
	UserCreated = "user-created"
)

// ChangeEvent describes a mutation for downstream consumers.
type ChangeEvent struct {
	Type      string `json:"type"`
	EntityID  string `json:"entityId"`
	Owner     string `json:"email"`
	Task      *Task  `json:"task,omitempty"`
	User      *User  `json:"user,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
