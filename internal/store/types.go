package store

// Thread is one conversation summary row. The contact's phone is the
// stable external identity; at most one thread exists per phone.
type Thread struct {
	ID                int64
	Phone             string
	ContactName       string
	IsPinned          bool
	IsArchived        bool
	UnreadCount       int
	LastMessage       string
	LastMessageType   string
	LastMessageSender string
	LastMessageStatus string
	LastInteractionAt int64 // unix ms
	TagIDs            []int64
}

// Tag is a label definition referenced by Thread.TagIDs. References are
// weak: deleting a tag does not clean up threads that still carry its id.
type Tag struct {
	ID    int64
	Name  string
	Color string
}

// Message is an authoritative message row. Immutable once written,
// except for delivery status transitions.
type Message struct {
	ID          int64
	ThreadID    int64
	Sender      string
	Body        string
	MessageType string
	Status      string
	CreatedAt   int64 // unix ms
}

// Sender values.
const (
	SenderAgent     = "agent"
	SenderAssistant = "assistant"
	SenderContact   = "contact"
)

// Message delivery statuses.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// FromUs reports whether sender is on our side of the conversation
// (human agent or assistant) as opposed to the external contact.
func FromUs(sender string) bool {
	return sender == SenderAgent || sender == SenderAssistant
}

// ThreadFilter selects which threads a bulk query returns.
type ThreadFilter struct {
	Archived bool
	Search   string
}

// ThreadPatch is a partial thread update. Nil fields are left untouched.
type ThreadPatch struct {
	ContactName *string
	IsPinned    *bool
	IsArchived  *bool
	UnreadCount *int
	TagIDs      *[]int64
}
