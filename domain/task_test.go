package domain

import (
	"encoding/json"
	"testing"
)

func TestStatusValid(t *testing.T) {
	if !StatusPending.Valid() || !StatusCompleted.Valid() {
		t.Fatal("known statuses must be valid")
	}
	for _, s := range []Status{"", "done", "PENDING"} {
		if s.Valid() {
			t.Fatalf("status %q must be invalid", s)
		}
	}
}

func TestTaskJSONShape(t *testing.T) {
	task := Task{
		ID:        "abc",
		Title:     "Buy milk",
		Status:    StatusPending,
		CreatedAt: 10,
		UpdatedAt: 10,
	}
	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	want := `{"id":"abc","title":"Buy milk","status":"pending","createdAt":10,"updatedAt":10}`
	if got != want {
		t.Fatalf("unexpected JSON %s", got)
	}
}
