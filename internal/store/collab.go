package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Collaboration rows attached to a task. A sync carries them across moves by
// preserving the task id and drops them with the task when it is removed.

func (s *Store) AddTaskEvent(ctx context.Context, event TaskEvent) error {
	return insertTaskEvent(ctx, s.db, event, s.now())
}

func insertTaskEvent(ctx context.Context, q sqlx.ExtContext, event TaskEvent, at time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO task_events (id, task_id, user_id, kind, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), event.ID, event.TaskID, event.UserID, event.Kind, event.Note, at)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

func (s *Store) AddAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_attachments (id, task_id, user_id, file_name, storage_key, content_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), item.ID, item.TaskID, item.UserID, item.FileName, item.StorageKey, item.ContentType, item.SizeBytes, s.now())
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *Store) AddComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_comments (id, task_id, parent_id, user_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), item.ID, item.TaskID, item.ParentID, item.UserID, item.Body, s.now())
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *Store) AddLike(ctx context.Context, taskID, userID string) error {
	return s.addUserMark(ctx, "task_likes", "created_at", taskID, userID)
}

func (s *Store) AddFollow(ctx context.Context, taskID, userID string) error {
	return s.addUserMark(ctx, "task_follows", "created_at", taskID, userID)
}

func (s *Store) RecordView(ctx context.Context, taskID, userID string) error {
	return s.addUserMark(ctx, "task_views", "viewed_at", taskID, userID)
}

func (s *Store) addUserMark(ctx context.Context, table, column, taskID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO `+table+` (task_id, user_id, `+column+`)
		VALUES (?, ?, ?)
		ON CONFLICT (task_id, user_id) DO NOTHING
	`), taskID, userID, s.now())
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// CountChildren tallies the collaboration rows referencing taskID.
func (s *Store) CountChildren(ctx context.Context, taskID string) (ChildCounts, error) {
	var counts ChildCounts
	targets := []struct {
		table string
		dest  *int
	}{
		{"task_events", &counts.Events},
		{"task_attachments", &counts.Attachments},
		{"task_comments", &counts.Comments},
		{"task_likes", &counts.Likes},
		{"task_follows", &counts.Follows},
		{"task_views", &counts.Views},
	}
	for _, target := range targets {
		query := s.db.Rebind(`SELECT COUNT(*) FROM ` + target.table + ` WHERE task_id = ?`)
		if err := s.db.GetContext(ctx, target.dest, query, taskID); err != nil {
			return ChildCounts{}, fmt.Errorf("count %s: %w", target.table, err)
		}
	}
	return counts, nil
}
