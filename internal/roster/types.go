package roster

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lfcamargo/atendo/internal/store"
)

// ThreadID identifies a roster row. Confirmed rows carry the store id;
// optimistically created rows carry a temporary uuid until the INSERT
// change for their phone key arrives and the id is adopted.
type ThreadID struct {
	Confirmed int64
	Temp      string
}

// ConfirmedID wraps a store thread id.
func ConfirmedID(id int64) ThreadID {
	return ThreadID{Confirmed: id}
}

// NewTempID mints an id for an optimistic thread.
func NewTempID() ThreadID {
	return ThreadID{Temp: uuid.NewString()}
}

// IsTemp reports whether the id is still provisional.
func (id ThreadID) IsTemp() bool {
	return id.Temp != ""
}

func (id ThreadID) String() string {
	if id.IsTemp() {
		return "tmp:" + id.Temp
	}
	return fmt.Sprintf("%d", id.Confirmed)
}

// ThreadSummary is one roster row as the UI sees it.
type ThreadSummary struct {
	ID                ThreadID
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

func fromStore(t store.Thread) ThreadSummary {
	return ThreadSummary{
		ID:                ConfirmedID(t.ID),
		Phone:             t.Phone,
		ContactName:       t.ContactName,
		IsPinned:          t.IsPinned,
		IsArchived:        t.IsArchived,
		UnreadCount:       t.UnreadCount,
		LastMessage:       t.LastMessage,
		LastMessageType:   t.LastMessageType,
		LastMessageSender: t.LastMessageSender,
		LastMessageStatus: t.LastMessageStatus,
		LastInteractionAt: t.LastInteractionAt,
		TagIDs:            t.TagIDs,
	}
}

// View selects which shelf of the roster a synchronizer owns.
type View struct {
	Archived bool
	Search   string
}

// CacheKey names the cached thread list for this view.
func (v View) CacheKey() string {
	return fmt.Sprintf("threads:%t:%s", v.Archived, v.Search)
}

const tagsCacheKey = "tags"

// Matches reports whether a thread record belongs on this view.
func (v View) Matches(archived bool, contactName, phone string) bool {
	if archived != v.Archived {
		return false
	}
	if v.Search == "" {
		return true
	}
	term := strings.ToLower(v.Search)
	return strings.Contains(strings.ToLower(contactName), term) ||
		strings.Contains(strings.ToLower(phone), term)
}

// previewFor derives the roster preview text for a message. Text bodies
// show verbatim; media messages fall back to a type label.
func previewFor(m store.Message) string {
	switch m.MessageType {
	case "", "text":
		return m.Body
	case "audio", "ptt":
		return "audio"
	default:
		return "media"
	}
}
