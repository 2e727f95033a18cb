package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Mehedi107/job-task/domain"
)

type mockStore struct {
	mu    sync.Mutex
	tasks []domain.Task
	users map[string]domain.User
	err   error
	seq   int
}

func (m *mockStore) CreateTask(ctx context.Context, title, description string, category domain.Category, owner string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Task{}, m.err
	}
	task, err := domain.NewTask(title, description, category, owner)
	if err != nil {
		return domain.Task{}, err
	}
	m.seq++
	task.ID = fmt.Sprintf("task-%d", m.seq)
	m.tasks = append(m.tasks, task)
	return task, nil
}

func (m *mockStore) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if owner == "" {
		return nil, domain.Validation("owner is required")
	}
	out := []domain.Task{}
	for _, t := range m.tasks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Task{}, m.err
	}
	for _, t := range m.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Task{}, domain.TaskNotFound(id)
}

func (m *mockStore) UpdateTask(ctx context.Context, id string, fields domain.TaskFields) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Task{}, m.err
	}
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			fields.Apply(&m.tasks[i])
			return m.tasks[i], nil
		}
	}
	return domain.Task{}, domain.TaskNotFound(id)
}

func (m *mockStore) DeleteTask(ctx context.Context, id string) (domain.DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.DeleteResult{}, m.err
	}
	for i, t := range m.tasks {
		if t.ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return domain.DeleteResult{DeletedCount: 1, Owner: t.Owner}, nil
		}
	}
	return domain.DeleteResult{}, nil
}

func (m *mockStore) UpsertUser(ctx context.Context, u domain.User) (domain.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.UpsertResult{}, m.err
	}
	if m.users == nil {
		m.users = map[string]domain.User{}
	}
	if existing, ok := m.users[u.Email]; ok {
		return domain.UpsertResult{User: existing}, nil
	}
	m.users[u.Email] = u
	return domain.UpsertResult{Created: true, User: u}, nil
}

func newTestServer(store Storage, auth Authenticator) *echo.Echo {
	e := echo.New()
	logger, _ := test.NewNullLogger()
	e.Use(GzipRequestMiddleware())
	Register(e, store, auth, logger)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestTaskScenario(t *testing.T) {
	e := newTestServer(&mockStore{}, nil)

	rec := do(t, e, http.MethodPost, "/tasks", `{"title":"Write report","category":"To-Do","email":"a@x.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[insertResponse](t, rec)
	if !created.Acknowledged || created.InsertedID == "" {
		t.Fatalf("unexpected create response: %#v", created)
	}

	rec = do(t, e, http.MethodGet, "/tasks/a@x.com", "")
	tasks := decode[[]domain.Task](t, rec)
	if len(tasks) != 1 || tasks[0].Category != domain.CategoryToDo || tasks[0].ID != created.InsertedID {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}

	rec = do(t, e, http.MethodPatch, "/tasks/"+created.InsertedID, `{"category":"Done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	upd := decode[updateResponse](t, rec)
	if upd.ModifiedCount != 1 || upd.MatchedCount != 1 {
		t.Fatalf("unexpected update response: %#v", upd)
	}

	rec = do(t, e, http.MethodGet, "/tasks/a@x.com", "")
	tasks = decode[[]domain.Task](t, rec)
	if len(tasks) != 1 || tasks[0].Category != domain.CategoryDone || tasks[0].Title != "Write report" {
		t.Fatalf("unexpected tasks after update: %#v", tasks)
	}

	rec = do(t, e, http.MethodDelete, "/tasks/"+created.InsertedID, "")
	if del := decode[deleteResponse](t, rec); del.DeletedCount != 1 {
		t.Fatalf("expected one deletion, got %#v", del)
	}
	rec = do(t, e, http.MethodDelete, "/tasks/"+created.InsertedID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second delete: expected 200 got %d", rec.Code)
	}
	if del := decode[deleteResponse](t, rec); del.DeletedCount != 0 {
		t.Fatalf("expected zero deletions, got %#v", del)
	}

	rec = do(t, e, http.MethodGet, "/tasks/a@x.com", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", rec.Body.String())
	}
}

func TestPostTaskDefaultsCategory(t *testing.T) {
	store := &mockStore{}
	e := newTestServer(store, nil)

	rec := do(t, e, http.MethodPost, "/tasks", `{"title":"t","description":"d","email":"a@x.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	resp := decode[insertResponse](t, rec)
	if resp.Task == nil || resp.Task.Category != domain.CategoryToDo {
		t.Fatalf("expected To-Do category, got %#v", resp.Task)
	}
}

func TestPostTaskValidation(t *testing.T) {
	testCases := map[string]string{
		"empty_title":   `{"title":"","email":"a@x.com"}`,
		"missing_owner": `{"title":"t"}`,
		"malformed":     `{"title":`,
	}
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			store := &mockStore{}
			e := newTestServer(store, nil)
			rec := do(t, e, http.MethodPost, "/tasks", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rec.Code)
			}
			if len(store.tasks) != 0 {
				t.Fatalf("expected nothing persisted, got %#v", store.tasks)
			}
		})
	}
}

func TestPatchTaskErrors(t *testing.T) {
	e := newTestServer(&mockStore{}, nil)

	rec := do(t, e, http.MethodPatch, "/tasks/missing", `{"category":"Done"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPatch, "/tasks/missing", `{"title":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title got %d", rec.Code)
	}
}

func TestPostUserOnce(t *testing.T) {
	e := newTestServer(&mockStore{}, nil)
	body := `{"email":"a@x.com","name":"A","photo":"http://p"}`

	rec := do(t, e, http.MethodPost, "/api/users", body)
	first := decode[insertResponse](t, rec)
	if !first.Acknowledged || first.InsertedID != "a@x.com" {
		t.Fatalf("unexpected first response: %s", rec.Body.String())
	}
	rec = do(t, e, http.MethodPost, "/api/users", body)
	second := decode[messageResponse](t, rec)
	if second.Message != userExistsMessage {
		t.Fatalf("unexpected second response: %s", rec.Body.String())
	}
	rec = do(t, e, http.MethodPost, "/api/users", `{"name":"nobody"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", rec.Code)
	}
}

func TestStoreErrorsMapToStatus(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want int
	}{
		"unavailable": {err: domain.Unavailable(errors.New("dial")), want: http.StatusServiceUnavailable},
		"unknown":     {err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			e := newTestServer(&mockStore{err: tc.err}, nil)
			rec := do(t, e, http.MethodGet, "/tasks/a@x.com", "")
			if rec.Code != tc.want {
				t.Fatalf("expected %d got %d", tc.want, rec.Code)
			}
			if resp := decode[errorResponse](t, rec); resp.Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestHello(t *testing.T) {
	e := newTestServer(&mockStore{}, nil)
	rec := do(t, e, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello World!" {
		t.Fatalf("unexpected root response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestGzipRequestBody(t *testing.T) {
	store := &mockStore{}
	e := newTestServer(store, nil)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(`{"title":"zipped","email":"a@x.com"}`))
	_ = gw.Close()

	req := httptest.NewRequest(http.MethodPost, "/tasks", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.tasks) != 1 || store.tasks[0].Title != "zipped" {
		t.Fatalf("unexpected tasks: %#v", store.tasks)
	}

	req = httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", rec.Code)
	}
}

var testSecret = []byte("secret")

func signedToken(t *testing.T, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"aud":   "board",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + tok
}

func TestOwnerVerification(t *testing.T) {
	store := &mockStore{}
	e := newTestServer(store, NewTestAuth(testSecret, "board", ""))
	alice := signedToken(t, "a@x.com")
	bob := signedToken(t, "b@x.com")

	rec := do(t, e, http.MethodPost, "/tasks", `{"title":"t","email":"a@x.com"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPost, "/tasks", `{"title":"t","email":"a@x.com"}`, echo.HeaderAuthorization, bob)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other owner, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPost, "/tasks", `{"title":"t","email":"a@x.com"}`, echo.HeaderAuthorization, alice)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d: %s", rec.Code, rec.Body.String())
	}
	id := decode[insertResponse](t, rec).InsertedID

	rec = do(t, e, http.MethodGet, "/tasks/a@x.com", "", echo.HeaderAuthorization, bob)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing other owner, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPatch, "/tasks/"+id, `{"category":"Done"}`, echo.HeaderAuthorization, bob)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 patching other owner's task, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPatch, "/tasks/"+id, `{"email":"b@x.com"}`, echo.HeaderAuthorization, alice)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when giving a task away, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodDelete, "/tasks/"+id, "", echo.HeaderAuthorization, bob)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 deleting other owner's task, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodDelete, "/tasks/"+id, "", echo.HeaderAuthorization, alice)
	if del := decode[deleteResponse](t, rec); del.DeletedCount != 1 {
		t.Fatalf("expected owner delete to succeed, got %s", rec.Body.String())
	}
	rec = do(t, e, http.MethodDelete, "/tasks/"+id, "", echo.HeaderAuthorization, alice)
	if del := decode[deleteResponse](t, rec); rec.Code != http.StatusOK || del.DeletedCount != 0 {
		t.Fatalf("expected idempotent delete, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestOwnerVerificationIsCaseSensitive(t *testing.T) {
	store := &mockStore{}
	e := newTestServer(store, NewTestAuth(testSecret, "board", ""))
	lower := signedToken(t, "a@x.com")
	upper := signedToken(t, "A@x.com")

	rec := do(t, e, http.MethodPost, "/tasks", `{"title":"t","email":"a@x.com"}`, echo.HeaderAuthorization, lower)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d: %s", rec.Code, rec.Body.String())
	}
	id := decode[insertResponse](t, rec).InsertedID

	rec = do(t, e, http.MethodPost, "/tasks", `{"title":"t","email":"a@x.com"}`, echo.HeaderAuthorization, upper)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 creating for differently cased owner, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, "/tasks/a@x.com", "", echo.HeaderAuthorization, upper)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing differently cased owner, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPatch, "/tasks/"+id, `{"category":"Done"}`, echo.HeaderAuthorization, upper)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 patching differently cased owner, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodPatch, "/tasks/"+id, `{"email":"A@x.com"}`, echo.HeaderAuthorization, lower)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 recasing the owner, got %d", rec.Code)
	}
	if got := store.tasks[0].Owner; got != "a@x.com" {
		t.Fatalf("owner changed to %q", got)
	}
}
