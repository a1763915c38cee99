package consts

// Redis key layout used by the store, cache and deduper.
const (
	TaskKeyPrefix    = "task:"
	TasksIndexKey    = "tasks:index"
	TasksCacheKey    = "tasks:all"
	DeduperKeyPrefix = "idem:"
)

// SSE framing.
const (
	SSEDataPrefix    = "data: "
	SSEIDPrefix      = "id: "
	SSESnapshotEvent = "event: snapshot\n"
	SSEChangeEvent   = "event: change\n"
)
