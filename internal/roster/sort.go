package roster

import (
	"cmp"
	"slices"
)

// sortThreads orders the roster in place: pinned rows first, then rows
// with unread messages, then most recent interaction. The order is
// recomputed after every mutation so pin and read toggles surface
// immediately.
func sortThreads(list []ThreadSummary) {
	slices.SortStableFunc(list, compareThreads)
}

func compareThreads(a, b ThreadSummary) int {
	if a.IsPinned != b.IsPinned {
		if a.IsPinned {
			return -1
		}
		return 1
	}
	aUnread := a.UnreadCount > 0
	bUnread := b.UnreadCount > 0
	if aUnread != bUnread {
		if aUnread {
			return -1
		}
		return 1
	}
	return cmp.Compare(b.LastInteractionAt, a.LastInteractionAt)
}
