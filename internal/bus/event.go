package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Entity identifies a watched table on the remote store.
type Entity string

const (
	EntityThreads  Entity = "threads"
	EntityTags     Entity = "tags"
	EntityMessages Entity = "messages"
)

// Op is a change-stream operation.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change is the payload of a change-stream event. Before carries the
// prior record for UPDATE and DELETE, After the new record for INSERT
// and UPDATE.
type Change struct {
	Entity Entity
	Op     Op
	Before any
	After  any
}

// ChangeKind returns the event kind used for changes on an entity.
func ChangeKind(e Entity) string {
	return "change." + string(e)
}

// ChangeNamespace matches every change-stream event.
const ChangeNamespace = "change."
