package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrNotFound 记录不存在（或不属于该用户）
	ErrNotFound = errors.New("db: not found")
	// ErrVersionMismatch 条件写入失败：服务器版本已变化
	ErrVersionMismatch = errors.New("db: version mismatch")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("db: duplicate")
)

// Store 持久化网关：封装 SQLite 连接
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open initializes the SQLite database and creates core tables if not existing.
func Open(dataSourceName string, logger *zap.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite3", dataSourceName+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Enable WAL to improve concurrency
	if _, err = conn.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warn("failed to set WAL mode", zap.Error(err))
	}

	// Set synchronous mode to NORMAL for better performance
	if _, err = conn.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		logger.Warn("failed to set synchronous mode", zap.Error(err))
	}

	s := &Store{db: conn, logger: logger}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            email TEXT UNIQUE,
            password_hash TEXT,
            role TEXT DEFAULT 'user',
            failed_attempts INTEGER DEFAULT 0,
            locked_until DATETIME,
            created_at DATETIME,
            updated_at DATETIME
        );`,
		`CREATE TABLE IF NOT EXISTS login_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            email TEXT,
            ip_address TEXT,
            success BOOLEAN,
            timestamp DATETIME
        );`,
		`CREATE TABLE IF NOT EXISTS tokens (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER,
            refresh_token TEXT,
            expires_at DATETIME,
            revoked BOOLEAN,
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS notes (
            id TEXT PRIMARY KEY,
            user_id INTEGER NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            content TEXT NOT NULL DEFAULT '',
            version INTEGER NOT NULL DEFAULT 1,
            editor TEXT NOT NULL DEFAULT '',
            is_deleted BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME,
            updated_at DATETIME,
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS tags (
            id TEXT PRIMARY KEY,
            user_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            color TEXT NOT NULL DEFAULT '',
            created_at DATETIME,
            UNIQUE(user_id, name),
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS note_tags (
            note_id TEXT NOT NULL,
            tag TEXT NOT NULL,
            PRIMARY KEY(note_id, tag),
            FOREIGN KEY(note_id) REFERENCES notes(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            title TEXT,
            description TEXT,
            status TEXT,
            priority TEXT,
            due_at DATETIME,
            created_at DATETIME,
            updated_at DATETIME,
            completed_at DATETIME,
            is_deleted BOOLEAN NOT NULL DEFAULT 0,
            deleted_at DATETIME,
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS devices (
            user_id INTEGER NOT NULL,
            device_id TEXT NOT NULL,
            user_agent TEXT NOT NULL DEFAULT '',
            first_seen DATETIME,
            last_seen DATETIME,
            PRIMARY KEY(user_id, device_id),
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS conflicts (
            id TEXT PRIMARY KEY,
            note_id TEXT NOT NULL,
            user_id INTEGER NOT NULL,
            state TEXT NOT NULL,
            current_version INTEGER NOT NULL,
            payload TEXT NOT NULL,
            resolution TEXT,
            created_at DATETIME,
            closed_at DATETIME,
            FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_notes_user_id ON notes(user_id, is_deleted);`,
		`CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at);`,
		`CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags(tag);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id, is_deleted);`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_user_state ON conflicts(user_id, state);`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_user_id ON tokens(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_login_logs_timestamp ON login_logs(timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// withTx 在事务中执行 fn，出错回滚
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
