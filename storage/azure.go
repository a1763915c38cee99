package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todo-api/domain"
	"todo-api/internal/clock"
)

// Azure persists tasks in an Azure Storage table. All tasks share one
// partition; the row key is the task identifier.
type Azure struct {
	table *aztables.Client
}

const taskPartition = "tasks"

// NewAzure creates the table when missing and returns an aztables-backed
// store.
func NewAzure(ctx context.Context, connStr, tableName string) (*Azure, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, domain.StoreUnavailableError{Err: err}
	}
	if _, err := svc.CreateTable(ctx, tableName, nil); err != nil && !isStatus(err, http.StatusConflict) {
		return nil, domain.StoreUnavailableError{Err: err}
	}
	return &Azure{table: svc.NewClient(tableName)}, nil
}

// Ping reports whether the table answers queries.
func (s *Azure) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			return domain.StoreUnavailableError{Err: err}
		}
	}
	return nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	CreatedAt   int64  `json:"CreatedAt"`
	UpdatedAt   int64  `json:"UpdatedAt"`
}

func (e taskEntity) toTask() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Status:      domain.Status(e.Status),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// Create commits a new pending task under the caller-chosen identifier.
func (s *Azure) Create(ctx context.Context, id, title, description string) (domain.Task, error) {
	now := clock.Now()
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: taskPartition, RowKey: id},
		Title:       title,
		Description: description,
		Status:      string(domain.StatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, domain.StoreUnavailableError{Err: err}
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, domain.StoreUnavailableError{Err: err}
	}
	return ent.toTask(), nil
}

// UpdateStatus replaces the status of one task using ETag concurrency so a
// racing update to the same record is retried rather than lost.
func (s *Azure) UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.Task, error) {
	for i := 0; i < maxTxRetries; i++ {
		resp, err := s.table.GetEntity(ctx, taskPartition, id, nil)
		if err != nil {
			if isStatus(err, http.StatusNotFound) {
				return domain.Task{}, domain.NotFoundError{ID: id}
			}
			return domain.Task{}, domain.StoreUnavailableError{Err: err}
		}
		var ent taskEntity
		if err := json.Unmarshal(resp.Value, &ent); err != nil {
			return domain.Task{}, domain.StoreUnavailableError{Err: err}
		}
		ent.Status = string(status)
		ent.UpdatedAt = clock.Now()
		payload, err := json.Marshal(ent)
		if err != nil {
			return domain.Task{}, domain.StoreUnavailableError{Err: err}
		}
		etag := azcore.ETag(resp.ETag)
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		if err == nil {
			return ent.toTask(), nil
		}
		if isStatus(err, http.StatusPreconditionFailed) {
			continue
		}
		if isStatus(err, http.StatusNotFound) {
			return domain.Task{}, domain.NotFoundError{ID: id}
		}
		return domain.Task{}, domain.StoreUnavailableError{Err: err}
	}
	return domain.Task{}, domain.StoreUnavailableError{Err: errors.New("update contention on task " + id)}
}

// ListAll returns every task ordered by CreatedAt descending, identifier
// ascending on ties.
func (s *Azure) ListAll(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + taskPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.StoreUnavailableError{Err: err}
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, domain.StoreUnavailableError{Err: err}
			}
			tasks = append(tasks, ent.toTask())
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
