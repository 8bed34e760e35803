package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// EnqueueConfigChange persists one queued mutation. The configqueue
// package owns draining and ordering; the store just durably records
// what's pending so a crash mid-scan doesn't lose queued intent.
func (s *Store) EnqueueConfigChange(ctx context.Context, c *enginetypes.ConfigChange) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.QueuedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_changes (id, kind, folder_id, path, enabled, queued_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Kind), nullable(c.FolderID), nullable(c.Path), c.Enabled, c.QueuedAt)
	return classifyErr("enqueue_config_change", err)
}

// ListQueuedConfigChanges returns queued changes in FIFO order.
func (s *Store) ListQueuedConfigChanges(ctx context.Context) ([]*enginetypes.ConfigChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, folder_id, path, enabled, queued_at FROM config_changes ORDER BY queued_at`)
	if err != nil {
		return nil, classifyErr("list_queued_config_changes", err)
	}
	defer rows.Close()

	var out []*enginetypes.ConfigChange
	for rows.Next() {
		c := &enginetypes.ConfigChange{}
		var folderID, path sql.NullString
		if err := rows.Scan(&c.ID, &c.Kind, &folderID, &path, &c.Enabled, &c.QueuedAt); err != nil {
			return nil, classifyErr("list_queued_config_changes", err)
		}
		c.FolderID, c.Path = folderID.String, path.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// DequeueConfigChange removes a drained change from the durable queue.
func (s *Store) DequeueConfigChange(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config_changes WHERE id = ?`, id)
	return classifyErr("dequeue_config_change", err)
}
