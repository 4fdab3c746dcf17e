package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"notesapp/internal/auth"
	"notesapp/internal/notes"
	"notesapp/internal/response"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxEmail
	ctxRole
)

// securityMiddleware 校验请求体类型并限制大小
func (s *Server) securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Validate content type for requests with a body
		if r.Method != http.MethodGet && r.Method != http.MethodDelete && r.ContentLength != 0 {
			contentType := r.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") && !strings.HasPrefix(contentType, "text/csv") {
				response.ErrorResponse(w, "unsupported media type", http.StatusUnsupportedMediaType)
				return
			}
		}

		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// headersMiddleware adds security headers
func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		// Cache control for API endpoints
		if strings.HasPrefix(r.URL.Path, "/api/v1/") {
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
			w.Header().Set("Pragma", "no-cache")
		}

		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware 记录请求数和延迟（按路由模板聚合）
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m := httpsnoop.CaptureMetrics(next, w, r)
		s.metrics.ObserveRequest(r.Method, route, m.Code, m.Duration.Seconds())
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
		)
	})
}

// authMiddleware validates JWT access tokens
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			response.ErrorResponse(w, "未授权", http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			response.ErrorResponse(w, "invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.tokens.ValidateTokenOfType(parts[1], auth.TokenTypeAccess)
		if err != nil {
			s.logger.Debug("token validation failed", zap.Error(err))
			response.ErrorResponse(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		userID, err := claims.ID()
		if err != nil {
			response.ErrorResponse(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxEmail, claims.Email)
		ctx = context.WithValue(ctx, ctxRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxUserID).(int64)
	return id
}

func emailFrom(ctx context.Context) string {
	email, _ := ctx.Value(ctxEmail).(string)
	return email
}

// actorFrom 当前请求的身份：用户、编辑者名称和设备
func actorFrom(r *http.Request) notes.Actor {
	return notes.Actor{
		UserID:   userIDFrom(r.Context()),
		Editor:   emailFrom(r.Context()),
		DeviceID: deviceID(r),
	}
}

func deviceID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Device-ID")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("device_id"))
}

// clientIP 获取客户端 IP 地址；仅在 trust_proxy 开启时采用 X-Forwarded-For
func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.Server.TrustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			return strings.TrimSpace(strings.Split(forwarded, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
