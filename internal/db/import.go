package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ImportNotes 在一个事务中批量创建笔记（用于导入），任一失败则全部回滚。
// 空标题的条目被跳过，返回新笔记的 ID。
func (s *Store) ImportNotes(ctx context.Context, userID int64, notes []NoteWrite) ([]string, error) {
	inserted := []string{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, w := range notes {
			if w.Title == "" {
				continue
			}
			id := uuid.NewString()
			if err := insertNote(ctx, tx, userID, id, w, now); err != nil {
				return err
			}
			inserted = append(inserted, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func insertNote(ctx context.Context, tx *sql.Tx, userID int64, id string, w NoteWrite, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notes (id, user_id, title, content, version, editor, created_at, updated_at) VALUES (?, ?, ?, ?, 1, ?, ?, ?)",
		id, userID, w.Title, w.Content, w.Editor, now, now,
	); err != nil {
		return err
	}
	return replaceNoteTags(ctx, tx, userID, id, w.Tags)
}
