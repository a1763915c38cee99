package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/bus"
	"todo-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Mutator, store Pinger, b *bus.Bus, auth Authenticator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/tasks", getTasks(svc, auth, logger))
	e.POST("/api/tasks", postTask(svc, auth, deduper))
	e.PUT("/api/tasks/:id/status", putTaskStatus(svc, auth))
	e.GET("/api/stream", streamTasks(svc, b, auth, logger))
	e.GET("/healthz", healthz(store))
}

func healthz(store Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := store.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	}
}

// authenticate verifies the caller when auth is configured. SSE clients may
// pass the bearer token as a query parameter since EventSource cannot set
// headers.
func authenticate(c echo.Context, auth Authenticator) error {
	if auth == nil {
		return nil
	}
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if token := c.QueryParam("token"); token != "" {
			header = "Bearer " + token
		}
	}
	_, err := auth.UserIDFromAuthHeader(header)
	return err
}

func getTasks(svc Mutator, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTaskRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		authErr := authenticate(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		fetchStart := time.Now()
		tasks, fetchErr := svc.ListTasks(ctx)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			err = writeError(c, fetchErr)
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func postTask(svc Mutator, auth Authenticator, deduper Deduper) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()

		lr := io.LimitReader(c.Request().Body, postTaskMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req createTaskRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		if deduper != nil && req.IdempotencyKey != "" {
			added, err := deduper.Add(ctx, req.IdempotencyKey)
			if err != nil {
				c.Logger().Errorf("deduper: %v", err)
			} else if !added {
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		task, err := svc.CreateTask(ctx, req.Title, req.Description)
		if err != nil {
			if deduper != nil && req.IdempotencyKey != "" {
				if rerr := deduper.Remove(ctx, req.IdempotencyKey); rerr != nil {
					c.Logger().Errorf("dedupe rollback failed: %v", rerr)
				}
			}
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func putTaskStatus(svc Mutator, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, postTaskMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req updateStatusRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		task, err := svc.UpdateTaskStatus(c.Request().Context(), c.Param("id"), req.Status)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func writeError(c echo.Context, err error) error {
	var vErr domain.ValidationError
	if errors.As(err, &vErr) {
		return c.String(http.StatusBadRequest, vErr.Error())
	}
	var nfErr domain.NotFoundError
	if errors.As(err, &nfErr) {
		return c.String(http.StatusNotFound, nfErr.Error())
	}
	var suErr domain.StoreUnavailableError
	if errors.As(err, &suErr) {
		c.Logger().Error(suErr)
		return c.String(http.StatusServiceUnavailable, "store unavailable")
	}
	c.Logger().Error(err)
	return c.String(http.StatusInternalServerError, err.Error())
}
