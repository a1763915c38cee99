package api

import (
	"context"

	"todo-api/domain"
)

const postTaskMaxSize = 64 * 1024 // 64 KiB

// Mutator applies task mutations and serves snapshot reads.
type Mutator interface {
	CreateTask(ctx context.Context, title, description string) (domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, key string) error
}

type createTaskRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type updateStatusRequest struct {
	Status domain.Status `json:"status"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}
