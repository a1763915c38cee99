package domain

// TopicTaskChanges is the topic all task change events are published on.
// Topics are first-class keys on the bus; this is simply the only one in use.
const TopicTaskChanges = "task-changes"

// EventKind tags the payload of a ChangeEvent. The set is closed: adding a
// new kind means adding a constant here and a field to ChangeEvent, not
// widening the payload to any.
type EventKind string

const (
	// KindTaskChanged carries the state of a task immediately after a
	// committed mutation (creation included).
	KindTaskChanged EventKind = "task-changed"
)

// ChangeEvent is an immutable snapshot of a record at the moment a mutation
// committed. Seq is assigned by the bus at publish time and is strictly
// increasing for the bus's lifetime.
type ChangeEvent struct {
	Seq  uint64    `json:"seq"`
	Kind EventKind `json:"kind"`
	Task Task      `json:"task"`
}
