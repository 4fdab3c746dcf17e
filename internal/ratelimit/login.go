package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter 按客户端 IP 限制登录尝试次数（令牌桶）
type LoginLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*entry
	idleTTL  time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginLimiter 创建限流器：每个 window 内最多 attempts 次
func NewLoginLimiter(attempts int, window time.Duration) *LoginLimiter {
	if attempts < 1 {
		attempts = 1
	}
	return &LoginLimiter{
		limit:    rate.Every(window / time.Duration(attempts)),
		burst:    attempts,
		limiters: make(map[string]*entry),
		idleTTL:  window,
	}
}

// Allow 检查该 IP 是否还能尝试登录
func (l *LoginLimiter) Allow(ip string) bool {
	return l.allowAt(ip, time.Now())
}

func (l *LoginLimiter) allowAt(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[ip]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Cleanup 清理长时间未活动的 IP 记录
func (l *LoginLimiter) Cleanup() int {
	return l.cleanupAt(time.Now())
}

func (l *LoginLimiter) cleanupAt(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}
