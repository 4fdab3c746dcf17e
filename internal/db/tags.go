package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Tag 标签及其使用次数
type Tag struct {
	Name      string `json:"name"`
	Color     string `json:"color"`
	NoteCount int    `json:"note_count"`
}

// ListTags 获取用户的全部标签（按名称排序）
func (s *Store) ListTags(ctx context.Context, userID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, t.color,
		       (SELECT COUNT(*) FROM note_tags nt
		          JOIN notes n ON n.id = nt.note_id
		         WHERE nt.tag = t.name AND n.user_id = t.user_id AND n.is_deleted = 0)
		FROM tags t
		WHERE t.user_id = ?
		ORDER BY t.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []Tag{}
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Name, &t.Color, &t.NoteCount); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// UpsertTag 创建标签或更新颜色
func (s *Store) UpsertTag(ctx context.Context, userID int64, name, color string) (*Tag, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, user_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET color = excluded.color
	`, uuid.NewString(), userID, name, color, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	t := Tag{Name: name, Color: color}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM note_tags nt JOIN notes n ON n.id = nt.note_id
		WHERE nt.tag = ? AND n.user_id = ? AND n.is_deleted = 0
	`, name, userID).Scan(&t.NoteCount)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTag 删除标签并从所有笔记中移除。
// 受影响的笔记版本号 +1，使持有旧版本的客户端进入冲突流程。
func (s *Store) DeleteTag(ctx context.Context, userID int64, name string) ([]string, error) {
	var affected []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT n.id FROM notes n JOIN note_tags nt ON nt.note_id = n.id
			WHERE n.user_id = ? AND nt.tag = ?
		`, userID, name)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			affected = append(affected, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, id := range affected {
			if _, err := tx.ExecContext(ctx, "DELETE FROM note_tags WHERE note_id = ? AND tag = ?", id, name); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "UPDATE notes SET version = version + 1, updated_at = ? WHERE id = ?", now, id); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE user_id = ? AND name = ?", userID, name)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 && len(affected) == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}
