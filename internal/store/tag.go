package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lfcamargo/atendo/internal/bus"
)

// ListTags returns all tag definitions ordered by name.
func (db *DB) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, color FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetTag returns a single tag by id, or nil if absent.
func (db *DB) GetTag(ctx context.Context, id int64) (*Tag, error) {
	var t Tag
	err := db.QueryRowContext(ctx, `SELECT id, name, color FROM tags WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Color)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTag inserts a tag definition and publishes its INSERT change.
func (db *DB) CreateTag(ctx context.Context, name, color string) (*Tag, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO tags (name, color, created_at) VALUES (?, ?, ?)`,
		name, color, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	created := &Tag{ID: id, Name: name, Color: color}
	db.publish(bus.Change{Entity: bus.EntityTags, Op: bus.OpInsert, After: created})
	return created, nil
}

// UpdateTag renames or recolors a tag and publishes the UPDATE change.
func (db *DB) UpdateTag(ctx context.Context, id int64, name, color string) error {
	before, err := db.GetTag(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return fmt.Errorf("update tag: id %d not found", id)
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE tags SET name = ?, color = ? WHERE id = ?`, name, color, id); err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	after := &Tag{ID: id, Name: name, Color: color}
	db.publish(bus.Change{Entity: bus.EntityTags, Op: bus.OpUpdate, Before: before, After: after})
	return nil
}

// DeleteTag removes a tag definition. Threads referencing the id keep
// the dangling reference; cleanup is the store owner's concern, not this
// layer's.
func (db *DB) DeleteTag(ctx context.Context, id int64) error {
	before, err := db.GetTag(ctx, id)
	if err != nil {
		return err
	}
	if before == nil {
		return nil
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	db.publish(bus.Change{Entity: bus.EntityTags, Op: bus.OpDelete, Before: before})
	return nil
}
