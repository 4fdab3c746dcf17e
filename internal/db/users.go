package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 30 * time.Minute
)

var bcryptCost = 12

// 用户角色
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	// ErrInvalidCredentials 邮箱或密码错误
	ErrInvalidCredentials = errors.New("db: invalid credentials")
	// ErrAccountLocked 连续失败后账户被临时锁定
	ErrAccountLocked = errors.New("db: account locked")
)

// User 用户信息
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUser 创建新用户（bcrypt 哈希密码）
func (s *Store) CreateUser(ctx context.Context, email, password, role string) (int64, error) {
	if role != RoleAdmin && role != RoleUser {
		return 0, fmt.Errorf("invalid role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		email, string(hash), role, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, fmt.Errorf("%w: email %s", ErrDuplicate, email)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// SeedAdmin creates the initial admin account when the users table is empty.
func (s *Store) SeedAdmin(ctx context.Context, email, password string) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if _, err := s.CreateUser(ctx, email, password, RoleAdmin); err != nil {
		return err
	}
	s.logger.Info("seed: created admin user", zap.String("email", email))
	return nil
}

// GetUserByID 根据 ID 获取用户信息
func (s *Store) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, role, created_at FROM users WHERE id = ?", userID,
	).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ValidateUserCredentials 验证用户邮箱和密码
// 使用 bcrypt 比较哈希密码，包含账户锁定检查
func (s *Store) ValidateUserCredentials(ctx context.Context, email, password string) (*User, error) {
	var u User
	var passwordHash string
	var lockedUntil sql.NullTime

	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, role, created_at, password_hash, locked_until FROM users WHERE email = ?", email,
	).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt, &passwordHash, &lockedUntil)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if lockedUntil.Valid && lockedUntil.Time.After(time.Now()) {
		return nil, fmt.Errorf("%w until %s", ErrAccountLocked, lockedUntil.Time.Format(time.RFC3339))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		if recErr := s.recordFailedLogin(ctx, email); recErr != nil {
			s.logger.Warn("failed to record failed login", zap.String("email", email), zap.Error(recErr))
		}
		return nil, ErrInvalidCredentials
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE users SET failed_attempts = 0, locked_until = NULL WHERE email = ?", email); err != nil {
		return nil, err
	}
	return &u, nil
}

// recordFailedLogin 记录失败的登录尝试，达到上限后锁定账户
func (s *Store) recordFailedLogin(ctx context.Context, email string) error {
	lockUntil := time.Now().UTC().Add(lockoutDuration)
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET failed_attempts = COALESCE(failed_attempts, 0) + 1,
		    locked_until = CASE
		        WHEN COALESCE(failed_attempts, 0) + 1 >= ?
		        THEN ?
		        ELSE locked_until
		    END
		WHERE email = ?
	`, maxFailedAttempts, lockUntil, email)
	return err
}

// LogLoginAttempt 记录登录尝试
func (s *Store) LogLoginAttempt(ctx context.Context, email, ip string, success bool) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO login_logs (email, ip_address, success, timestamp) VALUES (?, ?, ?, ?)",
		email, ip, success, time.Now().UTC())
	return err
}

// SaveRefreshToken persists a refresh token for a user for rotation support
func (s *Store) SaveRefreshToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tokens (user_id, refresh_token, expires_at, revoked) VALUES (?, ?, ?, 0)",
		userID, token, expiresAt.UTC())
	return err
}

// ValidateRefreshToken checks if the given refresh token is valid for the user
func (s *Store) ValidateRefreshToken(ctx context.Context, userID int64, token string) (bool, error) {
	var expiresAt time.Time
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		"SELECT expires_at, revoked FROM tokens WHERE user_id = ? AND refresh_token = ?", userID, token,
	).Scan(&expiresAt, &revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return !revoked && expiresAt.After(time.Now()), nil
}

// RevokeRefreshToken marks a refresh token as revoked (rotation/logout)
func (s *Store) RevokeRefreshToken(ctx context.Context, userID int64, token string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE tokens SET revoked = 1 WHERE user_id = ? AND refresh_token = ?", userID, token)
	return err
}

// CleanupExpiredTokens 清理过期或已撤销的令牌
func (s *Store) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE expires_at < ? OR revoked = 1", time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupOldLoginLogs 删除 30 天前的登录日志
func (s *Store) CleanupOldLoginLogs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM login_logs WHERE timestamp < ?", time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
