package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const taskColumns = `id, extraction_id, phase_id, phase_title, item_index, item_text, node_key,
	parent_key, depth, position_path, checked, status, created_at, updated_at`

// taskChildTables are deleted explicitly before their task so a sync never
// depends on the driver enforcing ON DELETE CASCADE.
var taskChildTables = []string{
	"task_events",
	"task_attachments",
	"task_comments",
	"task_likes",
	"task_follows",
	"task_views",
}

func (s *Store) ListTasks(ctx context.Context, extractionID string) ([]Task, error) {
	return listTasks(ctx, s.db, extractionID)
}

func (s *Store) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := getOne(ctx, s.db, &task, s.db.Rebind(`SELECT `+taskColumns+` FROM extraction_tasks WHERE id = ?`), taskID)
	if err != nil {
		return Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// UpdateTaskState writes the per-item collaboration state of one task and
// appends event to its history. Both land in one transaction.
func (s *Store) UpdateTaskState(ctx context.Context, taskID string, checked bool, status TaskStatus, event TaskEvent) (Task, error) {
	var task Task
	err := s.WithTx(ctx, func(tx *Tx) error {
		result, err := tx.tx.ExecContext(ctx, tx.tx.Rebind(`
			UPDATE extraction_tasks SET checked = ?, status = ?, updated_at = ? WHERE id = ?
		`), checked, string(status), tx.now(), taskID)
		if err != nil {
			return fmt.Errorf("update task state: %w", err)
		}
		if err := expectRow(result, "update task state"); err != nil {
			return err
		}
		event.TaskID = taskID
		if err := insertTaskEvent(ctx, tx.tx, event, tx.now()); err != nil {
			return err
		}
		err = getOne(ctx, tx.tx, &task, tx.tx.Rebind(`SELECT `+taskColumns+` FROM extraction_tasks WHERE id = ?`), taskID)
		if err != nil {
			return fmt.Errorf("get task %s: %w", taskID, err)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// LockExtraction reads the extraction row and, on Postgres, holds a row lock
// on it until the transaction ends. SQLite serializes writers on its own.
func (t *Tx) LockExtraction(ctx context.Context, extractionID string) (Extraction, error) {
	query := `SELECT ` + extractionColumns + ` FROM extractions WHERE id = ?`
	if t.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	var item Extraction
	if err := getOne(ctx, t.tx, &item, t.tx.Rebind(query), extractionID); err != nil {
		return Extraction{}, fmt.Errorf("lock extraction %s: %w", extractionID, err)
	}
	return item, nil
}

func (t *Tx) ListTasks(ctx context.Context, extractionID string) ([]Task, error) {
	return listTasks(ctx, t.tx, extractionID)
}

// AttachmentKeys returns the object storage keys of every attachment on the
// given tasks.
func (t *Tx) AttachmentKeys(ctx context.Context, taskIDs []string) ([]string, error) {
	keys := make([]string, 0)
	if len(taskIDs) == 0 {
		return keys, nil
	}
	query, args, err := sqlx.In(`
		SELECT storage_key FROM task_attachments
		WHERE task_id IN (?)
		ORDER BY created_at ASC, id ASC
	`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("build attachment key query: %w", err)
	}
	if err := t.tx.SelectContext(ctx, &keys, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list attachment keys: %w", err)
	}
	return keys, nil
}

// DeleteTasks removes tasks together with every collaboration row that hangs
// off them.
func (t *Tx) DeleteTasks(ctx context.Context, taskIDs []string) error {
	if len(taskIDs) == 0 {
		return nil
	}
	for _, table := range taskChildTables {
		if table == "task_comments" {
			// Replies reference their parent comment; detach before deleting.
			if err := t.execIn(ctx, `UPDATE task_comments SET parent_id = NULL WHERE task_id IN (?)`, taskIDs); err != nil {
				return fmt.Errorf("detach comment replies: %w", err)
			}
		}
		if err := t.execIn(ctx, `DELETE FROM `+table+` WHERE task_id IN (?)`, taskIDs); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if err := t.execIn(ctx, `DELETE FROM extraction_tasks WHERE id IN (?)`, taskIDs); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

func (t *Tx) SetTaskPlacement(ctx context.Context, taskID string, p Placement) error {
	result, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE extraction_tasks
		SET phase_id = ?, phase_title = ?, item_index = ?, item_text = ?, node_key = ?,
			parent_key = ?, depth = ?, position_path = ?, updated_at = ?
		WHERE id = ?
	`), p.PhaseID, p.PhaseTitle, p.ItemIndex, p.ItemText, p.NodeKey,
		p.ParentKey, p.Depth, p.PositionPath, t.now(), taskID)
	if err != nil {
		return fmt.Errorf("set task placement %s: %w", taskID, err)
	}
	return expectRow(result, "set task placement")
}

func (t *Tx) InsertTask(ctx context.Context, task Task) error {
	now := t.now()
	if task.Status == "" {
		task.Status = TaskPending
	}
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO extraction_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.ExtractionID, task.PhaseID, task.PhaseTitle, task.ItemIndex, task.ItemText, task.NodeKey,
		task.ParentKey, task.Depth, task.PositionPath, task.Checked, string(task.Status), now, now)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// SavePhases replaces the persisted phase structure wholesale.
func (t *Tx) SavePhases(ctx context.Context, extractionID string, phases PhaseList, actorID string) error {
	result, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE extractions SET phases_json = ?, updated_by = ?, updated_at = ? WHERE id = ?
	`), phases, actorID, t.now(), extractionID)
	if err != nil {
		return fmt.Errorf("save phases: %w", err)
	}
	return expectRow(result, "save phases")
}

func (t *Tx) execIn(ctx context.Context, query string, ids []string) error {
	expanded, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(expanded), args...)
	return err
}

func listTasks(ctx context.Context, q sqlx.ExtContext, extractionID string) ([]Task, error) {
	tasks := make([]Task, 0)
	err := sqlx.SelectContext(ctx, q, &tasks, q.Rebind(`
		SELECT `+taskColumns+`
		FROM extraction_tasks
		WHERE extraction_id = ?
		ORDER BY phase_id ASC, item_index ASC, id ASC
	`), extractionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}
