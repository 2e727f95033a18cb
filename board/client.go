package board

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Mehedi107/job-task/domain"
)

const maxResponseSize = 4 << 20

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// Unwrap maps the status to the matching domain error so callers can use
// errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusServiceUnavailable:
		return domain.ErrStoreUnavailable
	default:
		return nil
	}
}

// Client talks to the task board REST API.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBearer returns a copy of the client that authenticates with token.
func (c *Client) WithBearer(token string) *Client {
	cp := *c
	cp.Bearer = token
	return &cp
}

type insertResponse struct {
	Acknowledged bool         `json:"acknowledged"`
	InsertedID   string       `json:"insertedId"`
	Task         *domain.Task `json:"task"`
	Message      string       `json:"message"`
}

type updateResponse struct {
	MatchedCount  int `json:"matchedCount"`
	ModifiedCount int `json:"modifiedCount"`
}

type deleteResponse struct {
	DeletedCount int `json:"deletedCount"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    domain.Category `json:"category,omitempty"`
	Email       string          `json:"email"`
}

type userRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Photo string `json:"photo"`
}

// ListTasks fetches every task owned by owner.
func (c *Client) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(owner), nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// CreateTask creates a task and returns its id.
func (c *Client) CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (string, error) {
	var resp insertResponse
	req := createTaskRequest{Title: title, Description: description, Category: category, Email: owner}
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &resp); err != nil {
		return "", err
	}
	return resp.InsertedID, nil
}

// UpdateTask applies fields to task id and reports the modified count.
func (c *Client) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (int, error) {
	var resp updateResponse
	if err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), fields, &resp); err != nil {
		return 0, err
	}
	return resp.ModifiedCount, nil
}

// DeleteTask removes task id and reports how many tasks were removed.
func (c *Client) DeleteTask(ctx context.Context, id string) (int, error) {
	var resp deleteResponse
	if err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

// SaveUser registers the user and reports whether a new record was created.
func (c *Client) SaveUser(ctx context.Context, u domain.User) (bool, error) {
	var resp insertResponse
	req := userRequest{Email: u.Email, Name: u.Name, Photo: u.Photo}
	if err := c.do(ctx, http.MethodPost, "/api/users", req, &resp); err != nil {
		return false, err
	}
	return resp.InsertedID != "", nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.Unavailable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.Unavailable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e errorResponse
		if sonic.Unmarshal(data, &e) == nil {
			apiErr.Message = e.Error
			if apiErr.Message == "" {
				apiErr.Message = e.Message
			}
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
