package db

import (
	"context"
	"time"
)

// Device 用户连接过的设备
type Device struct {
	DeviceID  string    `json:"device_id"`
	UserAgent string    `json:"user_agent"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// TouchDevice 登记设备；已存在时更新最后活跃时间
func (s *Store) TouchDevice(ctx context.Context, userID int64, deviceID, userAgent string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (user_id, device_id, user_agent, first_seen, last_seen) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET last_seen = excluded.last_seen, user_agent = excluded.user_agent
	`, userID, deviceID, userAgent, now, now)
	return err
}

// GetUserDevices 获取用户的设备列表，最近活跃的在前
func (s *Store) GetUserDevices(ctx context.Context, userID int64) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, user_agent, first_seen, last_seen
		FROM devices
		WHERE user_id = ?
		ORDER BY last_seen DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.UserAgent, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// RevokeDevice 删除设备记录
func (s *Store) RevokeDevice(ctx context.Context, userID int64, deviceID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE user_id = ? AND device_id = ?", userID, deviceID)
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
