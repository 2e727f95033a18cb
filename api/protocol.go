package api

import "github.com/Mehedi107/job-task/domain"

const postMaxSize = 64 * 1024 // 64 KiB

// POST /tasks request body
type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    domain.Category `json:"category,omitempty"`
	Email       string          `json:"email"`
}

// POST /tasks response body
type insertResponse struct {
	Acknowledged bool         `json:"acknowledged"`
	InsertedID   string       `json:"insertedId"`
	Task         *domain.Task `json:"task,omitempty"`
}

// POST /api/users response body when the email is already registered
type messageResponse struct {
	Message string `json:"message"`
}

// PATCH /tasks/:id response body
type updateResponse struct {
	Acknowledged  bool `json:"acknowledged"`
	MatchedCount  int  `json:"matchedCount"`
	ModifiedCount int  `json:"modifiedCount"`
}

// DELETE /tasks/:id response body
type deleteResponse struct {
	Acknowledged bool `json:"acknowledged"`
	DeletedCount int  `json:"deletedCount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const userExistsMessage = "User already exists"
