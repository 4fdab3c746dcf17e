package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"notesapp/internal/conflict"
)

// ConflictRecord 冲突日志：记录检测到的冲突及其最终处理
type ConflictRecord struct {
	ID         string                   `json:"id"`
	NoteID     string                   `json:"note_id"`
	UserID     int64                    `json:"-"`
	State      conflict.State           `json:"state"`
	Conflict   conflict.Conflict        `json:"conflict"`
	Resolution *conflict.ResolvedRecord `json:"resolution,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	ClosedAt   *time.Time               `json:"closed_at,omitempty"`
}

// SaveConflict 保存新检测到的冲突（状态 awaiting）
func (s *Store) SaveConflict(ctx context.Context, userID int64, c conflict.Conflict) (*ConflictRecord, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	rec := &ConflictRecord{
		ID:        uuid.NewString(),
		NoteID:    c.ID,
		UserID:    userID,
		State:     conflict.StateAwaiting,
		Conflict:  c,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO conflicts (id, note_id, user_id, state, current_version, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.NoteID, userID, string(rec.State), c.Current.Version, string(payload), rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetConflict 获取冲突记录
func (s *Store) GetConflict(ctx context.Context, userID int64, id string) (*ConflictRecord, error) {
	return getConflict(ctx, s.db, userID, id)
}

const conflictColumns = "id, note_id, user_id, state, payload, resolution, created_at, closed_at"

func getConflict(ctx context.Context, q queryer, userID int64, id string) (*ConflictRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+conflictColumns+" FROM conflicts WHERE id = ? AND user_id = ?", id, userID)
	rec, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConflict(sc scanner) (*ConflictRecord, error) {
	var rec ConflictRecord
	var state, payload string
	var resolution sql.NullString
	var closedAt sql.NullTime

	if err := sc.Scan(&rec.ID, &rec.NoteID, &rec.UserID, &state, &payload, &resolution, &rec.CreatedAt, &closedAt); err != nil {
		return nil, err
	}
	rec.State = conflict.State(state)
	if err := json.Unmarshal([]byte(payload), &rec.Conflict); err != nil {
		return nil, err
	}
	if resolution.Valid && resolution.String != "" {
		var r conflict.ResolvedRecord
		if err := json.Unmarshal([]byte(resolution.String), &r); err != nil {
			return nil, err
		}
		rec.Resolution = &r
	}
	if closedAt.Valid {
		t := closedAt.Time
		rec.ClosedAt = &t
	}
	return &rec, nil
}

// ListPendingConflicts 获取等待处理的冲突（最新的在前）
func (s *Store) ListPendingConflicts(ctx context.Context, userID int64) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conflictColumns+" FROM conflicts WHERE user_id = ? AND state = ? ORDER BY created_at DESC",
		userID, string(conflict.StateAwaiting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ConflictRecord{}
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AbandonConflict 放弃冲突（awaiting -> abandoned）
func (s *Store) AbandonConflict(ctx context.Context, userID int64, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return closeConflict(ctx, tx, userID, id, conflict.StateAbandoned, nil)
	})
}

// CommitResolution 在同一事务中写入解决后的笔记并关闭冲突。
// 笔记版本必须仍等于冲突检测时的服务器版本，否则返回 ErrVersionMismatch。
func (s *Store) CommitResolution(ctx context.Context, userID int64, id string, resolved conflict.ResolvedRecord) (*Note, error) {
	var note *Note
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := getConflict(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if err := conflict.Transition(rec.State, conflict.StateResolved); err != nil {
			return err
		}

		note, err = updateNoteIfVersion(ctx, tx, userID, rec.NoteID, rec.Conflict.Current.Version, NoteWrite{
			Title:   resolved.Title,
			Content: resolved.Content,
			Tags:    resolved.Tags,
			Editor:  resolved.Editor,
		})
		if err != nil {
			return err
		}
		return closeConflict(ctx, tx, userID, id, conflict.StateResolved, &resolved)
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

func closeConflict(ctx context.Context, tx *sql.Tx, userID int64, id string, to conflict.State, resolved *conflict.ResolvedRecord) error {
	var state string
	err := tx.QueryRowContext(ctx, "SELECT state FROM conflicts WHERE id = ? AND user_id = ?", id, userID).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if err := conflict.Transition(conflict.State(state), to); err != nil {
		return err
	}

	var resolution interface{}
	if resolved != nil {
		data, err := json.Marshal(resolved)
		if err != nil {
			return err
		}
		resolution = string(data)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conflicts SET state = ?, resolution = ?, closed_at = ? WHERE id = ? AND user_id = ?",
		string(to), resolution, time.Now().UTC(), id, userID)
	return err
}
