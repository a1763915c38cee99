package domain

// Length bounds enforced on task input.
const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 2000
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Task is a single item on the shared list. Timestamps are unix nanoseconds;
// UpdatedAt is refreshed on every mutation and is never below CreatedAt.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}
