package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lfcamargo/atendo/internal/bus"
)

// InsertMessage appends a message row, silently refreshes the owning
// thread's preview columns, and publishes the message INSERT change.
// Only the message event goes out: the roster derives the thread-level
// consequences (preview, unread accounting) from it.
func (db *DB) InsertMessage(ctx context.Context, m Message) (*Message, error) {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	if m.Status == "" {
		m.Status = StatusSent
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, sender, body, message_type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ThreadID, m.Sender, m.Body, m.MessageType, m.Status, m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET last_message = ?, last_message_type = ?, last_message_sender = ?,
			last_message_status = ?, last_interaction_at = ?, updated_at = ?
		WHERE id = ?`,
		m.Body, m.MessageType, m.Sender, m.Status, m.CreatedAt,
		time.Now().UnixMilli(), m.ThreadID); err != nil {
		return nil, fmt.Errorf("refresh thread preview: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	m.ID = id
	db.publish(bus.Change{Entity: bus.EntityMessages, Op: bus.OpInsert, After: &m})
	return &m, nil
}

// ListMessages returns a thread's messages oldest first.
func (db *DB) ListMessages(ctx context.Context, threadID int64) ([]Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, thread_id, sender, body, message_type, status, created_at
		FROM messages WHERE thread_id = ? ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Sender, &m.Body, &m.MessageType, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message by id, or nil if absent.
func (db *DB) GetMessage(ctx context.Context, id int64) (*Message, error) {
	var m Message
	err := db.QueryRowContext(ctx, `
		SELECT id, thread_id, sender, body, message_type, status, created_at
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ThreadID, &m.Sender, &m.Body, &m.MessageType, &m.Status, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageStatus advances a message's delivery status and publishes
// the UPDATE change.
func (db *DB) UpdateMessageStatus(ctx context.Context, id int64, status string) error {
	before, err := db.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	after := *before
	after.Status = status
	db.publish(bus.Change{Entity: bus.EntityMessages, Op: bus.OpUpdate, Before: before, After: &after})
	return nil
}

// DeleteMessage removes a message row and publishes the DELETE change.
// No-op if the id is unknown.
func (db *DB) DeleteMessage(ctx context.Context, id int64) error {
	before, err := db.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	db.publish(bus.Change{Entity: bus.EntityMessages, Op: bus.OpDelete, Before: before})
	return nil
}
