package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"notesapp/internal/types"
)

// AdminUser 管理视图中的用户（含锁定状态）
type AdminUser struct {
	User
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
}

// ListUsers 获取所有用户，按创建时间倒序
func (s *Store) ListUsers(ctx context.Context) ([]AdminUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, role, created_at, COALESCE(failed_attempts, 0), locked_until
		FROM users ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []AdminUser{}
	for rows.Next() {
		var u AdminUser
		var lockedUntil sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt, &u.FailedAttempts, &lockedUntil); err != nil {
			return nil, err
		}
		if lockedUntil.Valid && lockedUntil.Time.After(time.Now()) {
			t := lockedUntil.Time.UTC()
			u.LockedUntil = &t
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// LockUser 锁定账户 d 时长并撤销其刷新令牌，返回解锁时间
func (s *Store) LockUser(ctx context.Context, userID int64, d time.Duration) (time.Time, error) {
	until := time.Now().UTC().Add(d)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE users SET locked_until = ?, updated_at = ? WHERE id = ?",
			until, time.Now().UTC(), userID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, "UPDATE tokens SET revoked = 1 WHERE user_id = ?", userID)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// UnlockUser 解锁账户并清零失败次数
func (s *Store) UnlockUser(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET locked_until = NULL, failed_attempts = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), userID)
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

// LoginLog 登录日志
type LoginLog struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	IPAddress string    `json:"ip_address"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// ListLoginLogs 按时间倒序分页查询登录日志。
// 过滤条件：email（模糊匹配）、success（true/false）。
func (s *Store) ListLoginLogs(ctx context.Context, pq *types.PaginatedQuery) ([]LoginLog, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if email := pq.GetFilter("email"); email != "" {
		where += " AND email LIKE ?"
		args = append(args, "%"+email+"%")
	}
	if success := strings.ToLower(pq.GetFilter("success")); success == "true" || success == "false" {
		where += " AND success = ?"
		args = append(args, success == "true")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM login_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, email, ip_address, success, timestamp FROM login_logs"+where+" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		append(args, pq.PageSize, pq.GetOffset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := []LoginLog{}
	for rows.Next() {
		var l LoginLog
		if err := rows.Scan(&l.ID, &l.Email, &l.IPAddress, &l.Success, &l.Timestamp); err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}
