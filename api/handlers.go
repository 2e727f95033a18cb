package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Mehedi107/job-task/domain"
)

// Register wires up all API routes on the provided Echo instance. A nil auth
// trusts the owner email supplied by the client.
func Register(e *echo.Echo, store Storage, auth Authenticator, logger *log.Logger) {
	e.JSONSerializer = SonicSerializer{}

	e.GET("/", hello)
	e.GET("/healthz", healthz)
	e.POST("/api/users", postUser(store, auth))
	e.POST("/tasks", postTask(store, auth))
	e.GET("/tasks/:email", getTasks(store, auth, logger))
	e.PATCH("/tasks/:id", patchTask(store, auth))
	e.DELETE("/tasks/:id", deleteTask(store, auth))
}

func hello(c echo.Context) error {
	return c.String(http.StatusOK, "Hello World!")
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

// decodeBody reads at most postMaxSize bytes of JSON into v.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, postMaxSize)
	return sonic.ConfigStd.NewDecoder(lr).Decode(v)
}

// checkOwner verifies that the bearer token belongs to owner. It writes the
// rejection itself and reports false when the request must stop.
func checkOwner(c echo.Context, auth Authenticator, owner string) (bool, error) {
	if auth == nil {
		return true, nil
	}
	email, err := auth.EmailFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return false, c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if email != owner {
		return false, c.JSON(http.StatusForbidden, errorResponse{Error: "owner mismatch"})
	}
	return true, nil
}

func postUser(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var u domain.User
		if err := decodeBody(c, &u); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if err := u.Validate(); err != nil {
			return writeError(c, err)
		}
		if ok, err := checkOwner(c, auth, u.Email); !ok {
			return err
		}
		res, err := store.UpsertUser(c.Request().Context(), u)
		if err != nil {
			return writeError(c, err)
		}
		if !res.Created {
			return c.JSON(http.StatusOK, messageResponse{Message: userExistsMessage})
		}
		return c.JSON(http.StatusOK, insertResponse{Acknowledged: true, InsertedID: res.User.Email})
	}
}

func postTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if strings.TrimSpace(req.Email) == "" {
			return writeError(c, domain.Validation("owner is required"))
		}
		if ok, err := checkOwner(c, auth, req.Email); !ok {
			return err
		}
		task, err := store.CreateTask(c.Request().Context(), req.Title, req.Description, req.Category, req.Email)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, insertResponse{Acknowledged: true, InsertedID: task.ID, Task: &task})
	}
}

func getTasks(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newTaskRequestMetrics(c.Request().Context(), logger)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		owner := c.Param("email")
		if unescaped, uerr := url.PathUnescape(owner); uerr == nil {
			owner = unescaped
		}

		authStart := time.Now()
		ok, authErr := checkOwner(c, auth, owner)
		metrics.ObserveAuth(time.Since(authStart))
		if !ok {
			metrics.SetErrorStage("auth")
			return authErr
		}

		fetchStart := time.Now()
		tasks, fetchErr := store.ListTasks(ctx, owner)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			return writeError(c, fetchErr)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func patchTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		var fields domain.TaskFields
		if err := decodeBody(c, &fields); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		if err := fields.Validate(); err != nil {
			return writeError(c, err)
		}

		if auth != nil {
			current, err := store.GetTask(ctx, id)
			if err != nil {
				return writeError(c, err)
			}
			if ok, err := checkOwner(c, auth, current.Owner); !ok {
				return err
			}
			if fields.Owner != nil && *fields.Owner != current.Owner {
				return c.JSON(http.StatusForbidden, errorResponse{Error: "owner mismatch"})
			}
		}

		if _, err := store.UpdateTask(ctx, id, fields); err != nil {
			return writeError(c, err)
		}
		resp := updateResponse{Acknowledged: true, MatchedCount: 1}
		if !fields.IsEmpty() {
			resp.ModifiedCount = 1
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func deleteTask(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		id := c.Param("id")

		if auth != nil {
			current, err := store.GetTask(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return c.JSON(http.StatusOK, deleteResponse{Acknowledged: true})
			}
			if err != nil {
				return writeError(c, err)
			}
			if ok, err := checkOwner(c, auth, current.Owner); !ok {
				return err
			}
		}

		res, err := store.DeleteTask(ctx, id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, deleteResponse{Acknowledged: true, DeletedCount: res.DeletedCount})
	}
}
