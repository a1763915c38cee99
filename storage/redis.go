package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"todo-api/domain"
	"todo-api/internal/clock"
	"todo-api/internal/consts"
)

// updateStatus retries this many times when an optimistic transaction loses
// a race before giving up with StoreUnavailableError.
const maxTxRetries = 5

// Redis persists tasks in Redis: one JSON value per task under
// consts.TaskKeyPrefix plus a sorted-set index scored by CreatedAt.
type Redis struct {
	client *redis.Client
}

// NewRedis verifies connectivity and returns a Redis-backed store.
func NewRedis(ctx context.Context, client *redis.Client) (*Redis, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, domain.StoreUnavailableError{Err: err}
	}
	return &Redis{client: client}, nil
}

// Ping reports whether the store is reachable.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return domain.StoreUnavailableError{Err: err}
	}
	return nil
}

// Create commits a new pending task. The identifier is chosen by the caller
// and must be fresh; both timestamps are assigned here.
func (s *Redis) Create(ctx context.Context, id, title, description string) (domain.Task, error) {
	now := clock.Now()
	task := domain.Task{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := json.Marshal(task)
	if err != nil {
		return domain.Task{}, domain.StoreUnavailableError{Err: err}
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, consts.TaskKeyPrefix+id, data, 0)
		pipe.ZAdd(ctx, consts.TasksIndexKey, redis.Z{Score: float64(now), Member: id})
		return nil
	})
	if err != nil {
		return domain.Task{}, domain.StoreUnavailableError{Err: err}
	}
	return task, nil
}

// UpdateStatus atomically replaces the status of one task. Concurrent
// updates to the same record are serialized by the WATCH transaction; a
// caller never observes a partially applied record.
func (s *Redis) UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error) {
	key := consts.TaskKeyPrefix + id
	var task domain.Task
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return domain.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		task.Status = status
		task.UpdatedAt = clock.Now()
		updated, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return task, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		var notFound domain.NotFoundError
		if errors.As(err, &notFound) {
			return domain.Task{}, notFound
		}
		return domain.Task{}, domain.StoreUnavailableError{Err: err}
	}
	return domain.Task{}, domain.StoreUnavailableError{Err: redis.TxFailedErr}
}

// ListAll returns every task ordered by CreatedAt descending, identifier
// ascending on ties.
func (s *Redis) ListAll(ctx context.Context) ([]domain.Task, error) {
	ids, err := s.client.ZRange(ctx, consts.TasksIndexKey, 0, -1).Result()
	if err != nil {
		return nil, domain.StoreUnavailableError{Err: err}
	}
	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, consts.TaskKeyPrefix+id).Bytes()
		if err == redis.Nil {
			// Index entry without a value: tolerate, records are never
			// deleted in normal operation.
			continue
		}
		if err != nil {
			return nil, domain.StoreUnavailableError{Err: err}
		}
		var t domain.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, domain.StoreUnavailableError{Err: err}
		}
		tasks = append(tasks, t)
	}
	sortTasks(tasks)
	return tasks, nil
}

func sortTasks(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt != tasks[j].CreatedAt {
			return tasks[i].CreatedAt > tasks[j].CreatedAt
		}
		return tasks[i].ID < tasks[j].ID
	})
}
