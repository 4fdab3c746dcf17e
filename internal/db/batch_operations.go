package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UndoWindow 删除后可撤销的时间
const UndoWindow = 30 * time.Second

// deletedRetention 超过该时间的已删除任务会被彻底清理
const deletedRetention = 30 * 24 * time.Hour

// BatchDeleteTasks 批量软删除任务，返回实际删除的数量（不存在或已删除的 ID 被跳过）
func (s *Store) BatchDeleteTasks(ctx context.Context, userID int64, taskIDs []int64) (int, error) {
	count := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, taskID := range taskIDs {
			res, err := tx.ExecContext(ctx,
				"UPDATE tasks SET is_deleted = 1, deleted_at = ?, version = version + 1, updated_at = ? WHERE id = ? AND user_id = ? AND is_deleted = 0",
				now, now, taskID, userID,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			count += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RestoreTask 撤销删除。只在 UndoWindow 内有效，版本号 +1
func (s *Store) RestoreTask(ctx context.Context, userID, taskID int64) (*Task, error) {
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT deleted_at FROM tasks WHERE id = ? AND user_id = ? AND is_deleted = 1", taskID, userID,
	).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !deletedAt.Valid || time.Since(deletedAt.Time) > UndoWindow {
		return nil, &UndoExpiredError{DeletedAt: deletedAt.Time}
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE tasks SET is_deleted = 0, deleted_at = NULL, version = version + 1, updated_at = ? WHERE id = ? AND user_id = ? AND is_deleted = 1",
		time.Now().UTC(), taskID, userID,
	)
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, userID, taskID)
}

// CleanupOldDeletedTasks 彻底删除 30 天前软删除的任务
func (s *Store) CleanupOldDeletedTasks(ctx context.Context) (int64, error) {
	threshold := time.Now().Add(-deletedRetention).UTC()
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE is_deleted = 1 AND deleted_at < ?", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// UndoExpiredError 超过撤销期限
type UndoExpiredError struct {
	DeletedAt time.Time
}

func (e *UndoExpiredError) Error() string {
	return fmt.Sprintf("已超过%d秒撤销期限", int(UndoWindow.Seconds()))
}
