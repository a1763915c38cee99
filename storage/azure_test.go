package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todo-api/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: taskPartition, RowKey: "task-1"},
		Title:       "write report",
		Description: "quarterly numbers",
		Status:      string(domain.StatusCompleted),
		CreatedAt:   1000,
		UpdatedAt:   2000,
	}

	payload, err := json.Marshal(ent)
	if err != nil {
		t.Fatalf("marshal entity: %v", err)
	}
	var decoded taskEntity
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal entity: %v", err)
	}

	got := decoded.toTask()
	want := domain.Task{
		ID:          "task-1",
		Title:       "write report",
		Description: "quarterly numbers",
		Status:      domain.StatusCompleted,
		CreatedAt:   1000,
		UpdatedAt:   2000,
	}
	if got != want {
		t.Fatalf("decoded task mismatch: %+v", got)
	}
}

func TestIsStatusMatchesWrappedResponseError(t *testing.T) {
	err := fmt.Errorf("get entity: %w", &azcore.ResponseError{StatusCode: http.StatusNotFound})
	if !isStatus(err, http.StatusNotFound) {
		t.Fatal("expected wrapped 404 to match")
	}
	if isStatus(err, http.StatusConflict) {
		t.Fatal("404 must not match 409")
	}
	if isStatus(errors.New("dial tcp: refused"), http.StatusNotFound) {
		t.Fatal("plain error must not match any status")
	}
}
