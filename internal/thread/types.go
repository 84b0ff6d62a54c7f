package thread

import "github.com/lfcamargo/atendo/internal/store"

// Pending message statuses. A pending starts as sending (or uploading
// for media), moves to sent once the write lands, and is removed once
// reconciled or after the grace delay. A failed send parks it at error
// and keeps it visible.
const (
	PendingSending   = "sending"
	PendingUploading = "uploading"
	PendingSent      = "sent"
	PendingError     = "error"
)

// PendingMessage is a locally echoed message that has no authoritative
// row yet. It exists only in memory; a restart drops it.
type PendingMessage struct {
	ID          string // uuid
	Body        string
	MessageType string
	Status      string
	CreatedAt   int64 // unix ms
}

// FeedItem is one row of the merged conversation feed. Exactly one of
// the fields is set.
type FeedItem struct {
	Confirmed *store.Message
	Pending   *PendingMessage
}
