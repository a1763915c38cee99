package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/bus"
	"todo-api/domain"
	"todo-api/mutation"
	"todo-api/storage"
)

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func setupStream(t *testing.T) (*mutation.Service, *bus.Bus, echo.HandlerFunc) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	store, err := storage.NewRedis(context.Background(), rc)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	logger := log.New()
	b := bus.New(16, logger)
	svc := mutation.New(store, b, logger)
	return svc, b, streamTasks(svc, b, nil, logger)
}

func runStream(t *testing.T, handler echo.HandlerFunc) (*flushRecorder, context.CancelFunc, chan error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	rec := &flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)

	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()
	return rec, cancel, errCh
}

func TestStreamSendsSnapshotFirst(t *testing.T) {
	svc, _, handler := setupStream(t)

	existing, err := svc.CreateTask(context.Background(), "already there", "")
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}

	rec, cancel, errCh := runStream(t, handler)
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: snapshot\n") {
		t.Fatalf("stream must open with the snapshot frame, got %q", body)
	}
	if !strings.Contains(body, existing.ID) {
		t.Fatalf("snapshot missing seeded task: %q", body)
	}
	// The pre-subscription create must not be replayed as a change event.
	if strings.Contains(body, "event: change\n") {
		t.Fatalf("unexpected change frame for pre-existing task: %q", body)
	}
}

func TestStreamDeliversChangeEvents(t *testing.T) {
	svc, _, handler := setupStream(t)

	rec, cancel, errCh := runStream(t, handler)
	time.Sleep(50 * time.Millisecond)

	task, err := svc.CreateTask(context.Background(), "Buy milk", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("expected snapshot + one change frame, got %d: %q", len(frames), body)
	}
	change := frames[1]
	if !strings.HasPrefix(change, "event: change\n") {
		t.Fatalf("unexpected second frame: %q", change)
	}
	dataLine := ""
	for _, line := range strings.Split(change, "\n") {
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
		}
	}
	var ev domain.ChangeEvent
	if err := json.Unmarshal([]byte(dataLine), &ev); err != nil {
		t.Fatalf("decode change frame: %v", err)
	}
	if ev.Kind != domain.KindTaskChanged {
		t.Fatalf("unexpected kind %s", ev.Kind)
	}
	if ev.Task != task {
		t.Fatalf("event task %+v does not equal committed record %+v", ev.Task, task)
	}
	if ev.Seq == 0 {
		t.Fatal("change event must carry its sequence number")
	}
	if !strings.Contains(change, "id: ") {
		t.Fatalf("change frame missing SSE id: %q", change)
	}
}

func TestStreamSnapshotThenLiveChangeScenario(t *testing.T) {
	// A client lists (empty), subscribes, then another client creates a
	// task: exactly one change event, no snapshot duplicate.
	svc, _, handler := setupStream(t)

	tasks, err := svc.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty initial list, got %d", len(tasks))
	}

	rec, cancel, errCh := runStream(t, handler)
	time.Sleep(50 * time.Millisecond)

	if _, err := svc.CreateTask(context.Background(), "from another client", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `data: []`) {
		t.Fatalf("expected empty snapshot frame, got %q", body)
	}
	if n := strings.Count(body, "event: change\n"); n != 1 {
		t.Fatalf("expected exactly one change frame, got %d: %q", n, body)
	}
}

func TestStreamSessionClosedAfterDisconnect(t *testing.T) {
	_, b, handler := setupStream(t)

	_, cancel, errCh := runStream(t, handler)
	time.Sleep(50 * time.Millisecond)
	if n := b.Subscribers(domain.TopicTaskChanges); n != 1 {
		t.Fatalf("expected 1 subscriber while streaming, got %d", n)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if n := b.Subscribers(domain.TopicTaskChanges); n != 0 {
		t.Fatalf("session not deregistered after disconnect, got %d", n)
	}
}

func TestStreamUnsupportedWriter(t *testing.T) {
	_, _, handler := setupStream(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, plainWriter{rec: rec})

	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for non-flushing writer, got %d", rec.Code)
	}
}

// plainWriter hides the Flusher the recorder would otherwise promote.
type plainWriter struct{ rec *httptest.ResponseRecorder }

func (p plainWriter) Header() http.Header         { return p.rec.Header() }
func (p plainWriter) Write(b []byte) (int, error) { return p.rec.Write(b) }
func (p plainWriter) WriteHeader(code int)        { p.rec.WriteHeader(code) }
