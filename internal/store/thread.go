package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lfcamargo/atendo/internal/bus"
)

const threadColumns = `id, phone, contact_name, is_pinned, is_archived, unread_count,
	last_message, last_message_type, last_message_sender, last_message_status,
	last_interaction_at, tag_ids`

func scanThread(row interface{ Scan(...any) error }) (*Thread, error) {
	var t Thread
	var tagJSON string
	err := row.Scan(&t.ID, &t.Phone, &t.ContactName, &t.IsPinned, &t.IsArchived,
		&t.UnreadCount, &t.LastMessage, &t.LastMessageType, &t.LastMessageSender,
		&t.LastMessageStatus, &t.LastInteractionAt, &tagJSON)
	if err != nil {
		return nil, err
	}
	t.TagIDs = tagsFromJSON(tagJSON)
	return &t, nil
}

func tagsToJSON(ids []int64) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func tagsFromJSON(raw string) []int64 {
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// ListThreads returns threads on the given shelf, newest interaction
// first, optionally narrowed by a name/phone search term.
func (db *DB) ListThreads(ctx context.Context, f ThreadFilter) ([]Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE is_archived = ?`
	args := []any{f.Archived}
	if f.Search != "" {
		query += ` AND (contact_name LIKE ? OR phone LIKE ?)`
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY last_interaction_at DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// GetThread returns a single thread by id, or nil if absent.
func (db *DB) GetThread(ctx context.Context, id int64) (*Thread, error) {
	t, err := scanThread(db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetThreadByPhone returns the thread for a phone key, or nil if absent.
func (db *DB) GetThreadByPhone(ctx context.Context, phone string) (*Thread, error) {
	t, err := scanThread(db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE phone = ?`, phone))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateThread inserts a new thread and publishes its INSERT change.
func (db *DB) CreateThread(ctx context.Context, t Thread) (*Thread, error) {
	now := time.Now().UnixMilli()
	if t.LastInteractionAt == 0 {
		t.LastInteractionAt = now
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO threads (phone, contact_name, is_pinned, is_archived, unread_count,
			last_message, last_message_type, last_message_sender, last_message_status,
			last_interaction_at, tag_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Phone, t.ContactName, t.IsPinned, t.IsArchived, t.UnreadCount,
		t.LastMessage, t.LastMessageType, t.LastMessageSender, t.LastMessageStatus,
		t.LastInteractionAt, tagsToJSON(t.TagIDs), now, now)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created, err := db.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	db.publish(bus.Change{Entity: bus.EntityThreads, Op: bus.OpInsert, After: created})
	return created, nil
}

// UpdateThread applies a partial update and publishes the UPDATE change
// with before/after records. Returns the updated thread.
func (db *DB) UpdateThread(ctx context.Context, id int64, patch ThreadPatch) (*Thread, error) {
	before, err := db.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("update thread: id %d not found", id)
	}

	var sets []string
	var args []any
	if patch.ContactName != nil {
		sets = append(sets, "contact_name = ?")
		args = append(args, *patch.ContactName)
	}
	if patch.IsPinned != nil {
		sets = append(sets, "is_pinned = ?")
		args = append(args, *patch.IsPinned)
	}
	if patch.IsArchived != nil {
		sets = append(sets, "is_archived = ?")
		args = append(args, *patch.IsArchived)
	}
	if patch.UnreadCount != nil {
		sets = append(sets, "unread_count = ?")
		args = append(args, *patch.UnreadCount)
	}
	if patch.TagIDs != nil {
		sets = append(sets, "tag_ids = ?")
		args = append(args, tagsToJSON(*patch.TagIDs))
	}
	if len(sets) == 0 {
		return before, nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UnixMilli(), id)

	if _, err := db.ExecContext(ctx,
		`UPDATE threads SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("update thread: %w", err)
	}

	after, err := db.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	db.publish(bus.Change{Entity: bus.EntityThreads, Op: bus.OpUpdate, Before: before, After: after})
	return after, nil
}

// DeleteThread removes a thread and its messages (FK cascade) and
// publishes the DELETE change. No-op if the id is unknown.
func (db *DB) DeleteThread(ctx context.Context, id int64) error {
	before, err := db.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	db.publish(bus.Change{Entity: bus.EntityThreads, Op: bus.OpDelete, Before: before})
	return nil
}

// BulkArchive archives each of the given threads, publishing one UPDATE
// change per row like the remote store would.
func (db *DB) BulkArchive(ctx context.Context, ids []int64) error {
	archived := true
	for _, id := range ids {
		if _, err := db.UpdateThread(ctx, id, ThreadPatch{IsArchived: &archived}); err != nil {
			return err
		}
	}
	return nil
}

// BulkDelete deletes each of the given threads.
func (db *DB) BulkDelete(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := db.DeleteThread(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SetThreadTags replaces a thread's tag references.
func (db *DB) SetThreadTags(ctx context.Context, id int64, tagIDs []int64) error {
	_, err := db.UpdateThread(ctx, id, ThreadPatch{TagIDs: &tagIDs})
	return err
}

// MarkThreadRead resets the unread counter.
func (db *DB) MarkThreadRead(ctx context.Context, id int64) error {
	zero := 0
	_, err := db.UpdateThread(ctx, id, ThreadPatch{UnreadCount: &zero})
	return err
}

// BumpUnread increments the persisted unread counter in a single atomic
// UPDATE, so concurrent senders can never lose an increment the way a
// client-side read-then-write would.
func (db *DB) BumpUnread(ctx context.Context, id int64) error {
	before, err := db.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, `
		UPDATE threads SET unread_count = unread_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("bump unread: %w", err)
	}
	after, err := db.GetThread(ctx, id)
	if err != nil {
		return err
	}
	db.publish(bus.Change{Entity: bus.EntityThreads, Op: bus.OpUpdate, Before: before, After: after})
	return nil
}
