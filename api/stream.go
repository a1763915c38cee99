package api

import (
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/bus"
	"todo-api/domain"
	"todo-api/internal/consts"
)

// streamTasks serves the live change stream over SSE. The session subscribes
// before the snapshot read, so a mutation committed in the gap appears in
// both the snapshot and the stream rather than in neither; clients reconcile
// by task id and updatedAt.
func streamTasks(svc Mutator, b *bus.Bus, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := authenticate(c, auth); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		session := bus.NewSession(b, domain.TopicTaskChanges)
		events, err := session.Activate()
		if err != nil {
			return c.String(http.StatusInternalServerError, err.Error())
		}
		defer session.Close()

		tasks, err := svc.ListTasks(ctx)
		if err != nil {
			return writeError(c, err)
		}
		data, err := sonic.Marshal(tasks)
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		if err := writeFrame(c, consts.SSESnapshotEvent, "", data); err != nil {
			return nil
		}
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				payload, err := sonic.Marshal(ev)
				if err != nil {
					c.Logger().Error(err)
					continue
				}
				id := strconv.FormatUint(ev.Seq, 10)
				if err := writeFrame(c, consts.SSEChangeEvent, id, payload); err != nil {
					// Transport write failed: tear the session down, the
					// client reconnects with a fresh one.
					if logger != nil {
						logger.WithFields(log.Fields{
							"seq":      ev.Seq,
							"degraded": session.Degraded(),
							"dropped":  session.Dropped(),
						}).Debug("stream write failed, closing session")
					}
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeFrame(c echo.Context, event, id string, data []byte) error {
	w := c.Response()
	if _, err := w.Write([]byte(event)); err != nil {
		return err
	}
	if id != "" {
		if _, err := w.Write([]byte(consts.SSEIDPrefix + id + "\n")); err != nil {
			return err
		}
	}
	if _, err := w.Write([]byte(consts.SSEDataPrefix)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
