package db

import (
	"context"
	"database/sql"
	"time"

	"notesapp/internal/types"
)

// Task 任务
type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"-"`
	Version     int64      `json:"version"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskWrite 任务的可变字段
type TaskWrite struct {
	Title       string
	Description string
	Status      string
	Priority    string
	DueAt       *time.Time
}

const taskColumns = "id, user_id, version, title, description, status, priority, due_at, completed_at, created_at, updated_at"

// CreateTask 创建任务
func (s *Store) CreateTask(ctx context.Context, userID int64, w TaskWrite) (*Task, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO tasks (user_id, version, title, description, status, priority, due_at, completed_at, created_at, updated_at) VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?)",
		userID, w.Title, w.Description, w.Status, w.Priority, nullTime(w.DueAt), completedAt(w.Status, now), now, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, userID, id)
}

// GetTask 获取未删除的任务
func (s *Store) GetTask(ctx context.Context, userID, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ? AND user_id = ? AND is_deleted = 0", id, userID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// GetTasksPaginated 分页获取任务，支持 status / priority 过滤
func (s *Store) GetTasksPaginated(ctx context.Context, userID int64, pq *types.PaginatedQuery) ([]Task, int, error) {
	clause := "user_id = ? AND is_deleted = 0"
	args := []interface{}{userID}
	if v := pq.GetFilter("status"); v != "" {
		clause += " AND status = ?"
		args = append(args, v)
	}
	if v := pq.GetFilter("priority"); v != "" {
		clause += " AND priority = ?"
		args = append(args, v)
	}

	// 获取总数
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// 获取分页任务
	query := "SELECT " + taskColumns + " FROM tasks WHERE " + clause +
		" ORDER BY " + pq.OrderColumn(taskOrderColumns) + " " + pq.OrderDirection() + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, pq.PageSize, pq.GetOffset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, total, rows.Err()
}

var taskOrderColumns = map[string]bool{"created_at": true, "updated_at": true, "due_at": true, "title": true}

// UpdateTaskWithVersion 更新任务并增加版本号（版本不匹配时返回 ErrVersionMismatch）
func (s *Store) UpdateTaskWithVersion(ctx context.Context, userID, id, expectedVersion int64, w TaskWrite) (*Task, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, due_at = ?,
		       completed_at = CASE WHEN ? = 'done' THEN COALESCE(completed_at, ?) ELSE NULL END,
		       version = version + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND version = ? AND is_deleted = 0
	`, w.Title, w.Description, w.Status, w.Priority, nullTime(w.DueAt), w.Status, now, now, id, userID, expectedVersion)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.GetTask(ctx, userID, id); err != nil {
			return nil, err
		}
		return nil, ErrVersionMismatch
	}
	return s.GetTask(ctx, userID, id)
}

// SoftDeleteTask 软删除任务
func (s *Store) SoftDeleteTask(ctx context.Context, userID, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET is_deleted = 1, deleted_at = ?, version = version + 1, updated_at = ? WHERE id = ? AND user_id = ? AND is_deleted = 0",
		now, now, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(sc scanner) (*Task, error) {
	var t Task
	var description, status, priority sql.NullString
	var dueAt, completed sql.NullTime
	if err := sc.Scan(&t.ID, &t.UserID, &t.Version, &t.Title, &description, &status, &priority, &dueAt, &completed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Description = description.String
	t.Status = status.String
	t.Priority = priority.String
	if dueAt.Valid {
		v := dueAt.Time
		t.DueAt = &v
	}
	if completed.Valid {
		v := completed.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func completedAt(status string, now time.Time) interface{} {
	if status == string(types.StatusDone) {
		return now
	}
	return nil
}
