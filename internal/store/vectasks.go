package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// CreateVectorizationTask queues a new task for filePath. At most one
// non-terminal task exists per file; callers should check
// ActiveTaskForFile first.
func (s *Store) CreateVectorizationTask(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error) {
	now := time.Now().UTC()
	t := &enginetypes.VectorizationTask{
		ID:        uuid.NewString(),
		FilePath:  filePath,
		Status:    enginetypes.TaskStatusQueued,
		Stage:     enginetypes.StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vectorization_tasks (id, file_path, status, stage, progress, parent_count, child_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		t.ID, t.FilePath, string(t.Status), string(t.Stage), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, classifyErr("create_vectorization_task", err)
	}
	return t, nil
}

// ActiveTaskForFile returns the current non-terminal task for filePath,
// if any.
func (s *Store) ActiveTaskForFile(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, status, stage, progress, parent_count, child_count, error, help_url, created_at, updated_at
		FROM vectorization_tasks
		WHERE file_path = ? AND status NOT IN ('completed', 'failed')
		ORDER BY created_at DESC LIMIT 1`, filePath)
	return scanTask(row)
}

// LatestTaskForFile returns the most recently created task for filePath
// regardless of status, used to check a completed vectorization state
// (ActiveTaskForFile only ever sees non-terminal tasks).
func (s *Store) LatestTaskForFile(ctx context.Context, filePath string) (*enginetypes.VectorizationTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, status, stage, progress, parent_count, child_count, error, help_url, created_at, updated_at
		FROM vectorization_tasks
		WHERE file_path = ?
		ORDER BY created_at DESC LIMIT 1`, filePath)
	return scanTask(row)
}

// UpdateTaskProgress advances a task's stage/progress in place.
func (s *Store) UpdateTaskProgress(ctx context.Context, id string, stage enginetypes.Stage, progress int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vectorization_tasks SET stage = ?, progress = ?, updated_at = ? WHERE id = ?`,
		string(stage), progress, time.Now().UTC(), id)
	return classifyErr("update_task_progress", err)
}

// CompleteTask marks a task completed with final chunk counts.
func (s *Store) CompleteTask(ctx context.Context, id string, parentCount, childCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vectorization_tasks
		SET status = 'completed', stage = 'completed', progress = 100, parent_count = ?, child_count = ?, updated_at = ?
		WHERE id = ?`, parentCount, childCount, time.Now().UTC(), id)
	return classifyErr("complete_task", err)
}

// FailTask marks a task failed with an error message and optional help URL.
func (s *Store) FailTask(ctx context.Context, id, errMsg, helpURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE vectorization_tasks SET status = 'failed', stage = 'failed', error = ?, help_url = ?, updated_at = ?
		WHERE id = ?`, errMsg, nullable(helpURL), time.Now().UTC(), id)
	return classifyErr("fail_task", err)
}

// GetTask fetches a vectorization task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*enginetypes.VectorizationTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, status, stage, progress, parent_count, child_count, error, help_url, created_at, updated_at
		FROM vectorization_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func scanTask(row *sql.Row) (*enginetypes.VectorizationTask, error) {
	t := &enginetypes.VectorizationTask{}
	var errMsg, helpURL sql.NullString
	err := row.Scan(&t.ID, &t.FilePath, &t.Status, &t.Stage, &t.Progress, &t.ParentCount, &t.ChildCount,
		&errMsg, &helpURL, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, classifyErr("scan_task", err)
	}
	t.Error, t.HelpURL = errMsg.String, helpURL.String
	return t, nil
}
