// Package mutation orchestrates commit-then-publish: every accepted change
// is committed to the task store first, then announced on the change bus.
// The store is the source of truth; event delivery is a best-effort side
// channel that can never fail or roll back a mutation.
package mutation

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// Store is the durable task store contract the service depends on.
type Store interface {
	Create(ctx context.Context, id, title, description string) (domain.Task, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error)
	ListAll(ctx context.Context) ([]domain.Task, error)
}

// Publisher fans a committed change out to subscribers. Publish must not
// block and must not fail.
type Publisher interface {
	Publish(topic string, ev domain.ChangeEvent) uint64
}

// lockStripes bounds the per-record lock table. Distinct records almost
// always hash to distinct stripes and commit in parallel.
const lockStripes = 64

// Service validates mutations, applies them to the store and publishes the
// committed record. A striped per-record lock spans commit and publish, so
// two mutations of the same record are published in the order their commits
// completed while unrelated records proceed concurrently.
type Service struct {
	store  Store
	bus    Publisher
	logger *log.Logger
	locks  [lockStripes]sync.Mutex
}

// New wires a mutation service over the given store and bus.
func New(store Store, bus Publisher, logger *log.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger}
}

// CreateTask validates input, commits a new pending task and publishes its
// change event. The identifier is generated here so the commit-order lock
// covers the record from its very first commit.
func (s *Service) CreateTask(ctx context.Context, title, description string) (domain.Task, error) {
	if err := validateInput(title, description); err != nil {
		return domain.Task{}, err
	}
	id := uuid.NewString()

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.store.Create(ctx, id, title, description)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(task)
	return task, nil
}

// UpdateTaskStatus commits a status change and publishes the resulting
// record. Unknown identifiers surface as NotFoundError and publish nothing.
func (s *Service) UpdateTaskStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Task{}, domain.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !status.Valid() {
		return domain.Task{}, domain.ValidationError{Field: "status", Reason: "must be pending or completed"}
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	task, err := s.store.UpdateStatus(ctx, id, status)
	if err != nil {
		return domain.Task{}, err
	}
	s.publish(task)
	return task, nil
}

// ListTasks returns the point-in-time snapshot of all tasks, independent of
// the event stream.
func (s *Service) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.store.ListAll(ctx)
}

func (s *Service) publish(task domain.Task) {
	seq := s.bus.Publish(domain.TopicTaskChanges, domain.ChangeEvent{
		Kind: domain.KindTaskChanged,
		Task: task,
	})
	if s.logger != nil {
		s.logger.WithFields(log.Fields{
			"seq":    seq,
			"task":   task.ID,
			"status": task.Status,
		}).Debug("published task change")
	}
}

func (s *Service) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

func validateInput(title, description string) error {
	if strings.TrimSpace(title) == "" {
		return domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(title) > domain.MaxTitleLen {
		return domain.ValidationError{Field: "title", Reason: "too long"}
	}
	if len(description) > domain.MaxDescriptionLen {
		return domain.ValidationError{Field: "description", Reason: "too long"}
	}
	return nil
}
