package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"notesapp/internal/conflict"
	"notesapp/internal/types"
)

// Note 笔记
type Note struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"-"`
	Title     string          `json:"title"`
	Content   string          `json:"content"`
	Tags      conflict.TagSet `json:"tags"`
	Version   int64           `json:"version"`
	Editor    string          `json:"editor"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Record 转换为冲突引擎使用的快照
func (n *Note) Record() conflict.VersionedRecord {
	return conflict.VersionedRecord{
		ID:           n.ID,
		Version:      n.Version,
		Title:        n.Title,
		Content:      n.Content,
		Tags:         n.Tags,
		Editor:       n.Editor,
		LastModified: n.UpdatedAt,
	}
}

// NoteWrite 写入笔记的可变字段
type NoteWrite struct {
	Title   string
	Content string
	Tags    conflict.TagSet
	Editor  string
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const noteColumns = "id, user_id, title, content, version, editor, created_at, updated_at"

// CreateNote 创建笔记，版本号从 1 开始
func (s *Store) CreateNote(ctx context.Context, userID int64, w NoteWrite) (*Note, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertNote(ctx, tx, userID, id, w, now)
	})
	if err != nil {
		return nil, err
	}
	return s.GetNote(ctx, userID, id)
}

// GetNote 获取未删除的笔记
func (s *Store) GetNote(ctx context.Context, userID int64, id string) (*Note, error) {
	return getNote(ctx, s.db, userID, id)
}

func getNote(ctx context.Context, q queryer, userID int64, id string) (*Note, error) {
	var n Note
	err := q.QueryRowContext(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE id = ? AND user_id = ? AND is_deleted = 0", id, userID,
	).Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.Version, &n.Editor, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	tags, err := loadTags(ctx, q, []string{n.ID})
	if err != nil {
		return nil, err
	}
	n.Tags = tags[n.ID]
	return &n, nil
}

// ListNotes 分页获取笔记，支持 "tag" 和 "q"（标题/内容模糊匹配）过滤
func (s *Store) ListNotes(ctx context.Context, userID int64, pq *types.PaginatedQuery) ([]Note, int, error) {
	where := []string{"n.user_id = ?", "n.is_deleted = 0"}
	args := []interface{}{userID}

	if tag := pq.GetFilter("tag"); tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM note_tags nt WHERE nt.note_id = n.id AND nt.tag = ?)")
		args = append(args, tag)
	}
	if q := pq.GetFilter("q"); q != "" {
		where = append(where, "(n.title LIKE ? OR n.content LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes n WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT n." + strings.ReplaceAll(noteColumns, ", ", ", n.") +
		" FROM notes n WHERE " + clause +
		" ORDER BY n." + pq.OrderColumn(noteOrderColumns) + " " + pq.OrderDirection() + ", n.rowid " + pq.OrderDirection() +
		" LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, pq.PageSize, pq.GetOffset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	notes := []Note{}
	ids := []string{}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.Version, &n.Editor, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, 0, err
		}
		notes = append(notes, n)
		ids = append(ids, n.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	tags, err := loadTags(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range notes {
		notes[i].Tags = tags[notes[i].ID]
	}
	return notes, total, nil
}

var noteOrderColumns = map[string]bool{"created_at": true, "updated_at": true, "title": true}

// UpdateNoteIfVersion 条件写入：仅当服务器版本等于 expectedVersion 时更新，版本号 +1
func (s *Store) UpdateNoteIfVersion(ctx context.Context, userID int64, id string, expectedVersion int64, w NoteWrite) (*Note, error) {
	var updated *Note
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := updateNoteIfVersion(ctx, tx, userID, id, expectedVersion, w)
		updated = n
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func updateNoteIfVersion(ctx context.Context, tx *sql.Tx, userID int64, id string, expectedVersion int64, w NoteWrite) (*Note, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE notes SET title = ?, content = ?, editor = ?, version = version + 1, updated_at = ? WHERE id = ? AND user_id = ? AND version = ? AND is_deleted = 0",
		w.Title, w.Content, w.Editor, time.Now().UTC(), id, userID, expectedVersion,
	)
	if err != nil {
		return nil, err
	}
	if err := checkVersionedWrite(ctx, tx, res, userID, id); err != nil {
		return nil, err
	}
	if err := replaceNoteTags(ctx, tx, userID, id, w.Tags); err != nil {
		return nil, err
	}
	return getNote(ctx, tx, userID, id)
}

// DeleteNote 软删除笔记（同样受版本检查保护）。
// 该笔记仍在等待的冲突在同一事务中被放弃，返回放弃的数量。
func (s *Store) DeleteNote(ctx context.Context, userID int64, id string, expectedVersion int64) (int64, error) {
	var abandoned int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			"UPDATE notes SET is_deleted = 1, version = version + 1, updated_at = ? WHERE id = ? AND user_id = ? AND version = ? AND is_deleted = 0",
			now, id, userID, expectedVersion,
		)
		if err != nil {
			return err
		}
		if err := checkVersionedWrite(ctx, tx, res, userID, id); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx,
			"UPDATE conflicts SET state = ?, closed_at = ? WHERE note_id = ? AND user_id = ? AND state = ?",
			string(conflict.StateAbandoned), now, id, userID, string(conflict.StateAwaiting),
		)
		if err != nil {
			return err
		}
		abandoned, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return abandoned, nil
}

// checkVersionedWrite 区分“不存在”和“版本不匹配”
func checkVersionedWrite(ctx context.Context, q queryer, res sql.Result, userID int64, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes WHERE id = ? AND user_id = ? AND is_deleted = 0", id, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrVersionMismatch
}

func replaceNoteTags(ctx context.Context, tx *sql.Tx, userID int64, noteID string, tags conflict.TagSet) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM note_tags WHERE note_id = ?", noteID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, tag := range tags.Slice() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO note_tags (note_id, tag) VALUES (?, ?)", noteID, tag); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO tags (id, user_id, name, created_at) VALUES (?, ?, ?, ?)",
			uuid.NewString(), userID, tag, now,
		); err != nil {
			return err
		}
	}
	return nil
}

func loadTags(ctx context.Context, q queryer, noteIDs []string) (map[string]conflict.TagSet, error) {
	out := make(map[string]conflict.TagSet, len(noteIDs))
	if len(noteIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(noteIDs)), ",")
	args := make([]interface{}, len(noteIDs))
	for i, id := range noteIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx, "SELECT note_id, tag FROM note_tags WHERE note_id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make(map[string][]string, len(noteIDs))
	for rows.Next() {
		var noteID, tag string
		if err := rows.Scan(&noteID, &tag); err != nil {
			return nil, err
		}
		names[noteID] = append(names[noteID], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range noteIDs {
		out[id] = conflict.NewTagSet(names[id]...)
	}
	return out, nil
}
