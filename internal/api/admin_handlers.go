package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"notesapp/internal/db"
	"notesapp/internal/response"
	"notesapp/internal/types"
)

const (
	defaultLockMinutes = 30
	maxLockMinutes     = 60 * 24 * 30
)

func roleFrom(ctx context.Context) string {
	role, _ := ctx.Value(ctxRole).(string)
	return role
}

// adminMiddleware checks if the user has admin role
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role := roleFrom(r.Context()); role != db.RoleAdmin {
			s.logger.Warn("unauthorized admin access attempt",
				zap.Int64("user_id", userIDFrom(r.Context())),
				zap.String("role", role),
			)
			response.ErrorResponse(w, "禁止访问：需要管理员权限", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type adminUserView struct {
	db.AdminUser
	Online bool `json:"online"`
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]adminUserView, len(users))
	for i, u := range users {
		views[i] = adminUserView{AdminUser: u, Online: s.hub.IsUserConnected(u.ID)}
	}
	response.SuccessResponse(w, views, http.StatusOK)
}

func targetUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		response.ErrorResponse(w, "无效的用户ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// handleAdminLockUser 锁定账户（默认 30 分钟），其刷新令牌随之失效
func (s *Server) handleAdminLockUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	if userID == userIDFrom(r.Context()) {
		response.ErrorResponse(w, "不能锁定自己的账户", http.StatusBadRequest)
		return
	}

	var req struct {
		DurationMinutes int `json:"duration_minutes"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = defaultLockMinutes
	}
	if req.DurationMinutes > maxLockMinutes {
		response.ValidationErrorResponse(w, map[string]string{"duration_minutes": "锁定时长不能超过 30 天"})
		return
	}

	until, err := s.store.LockUser(r.Context(), userID, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("admin locked user",
		zap.String("admin", emailFrom(r.Context())),
		zap.Int64("user_id", userID),
		zap.Int("minutes", req.DurationMinutes),
	)
	response.SuccessResponse(w, map[string]interface{}{"status": "locked", "locked_until": until}, http.StatusOK)
}

func (s *Server) handleAdminUnlockUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := targetUserID(w, r)
	if !ok {
		return
	}
	if err := s.store.UnlockUser(r.Context(), userID); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("admin unlocked user", zap.String("admin", emailFrom(r.Context())), zap.Int64("user_id", userID))
	response.SuccessResponse(w, map[string]string{"status": "unlocked"}, http.StatusOK)
}

// handleAdminLoginLogs 分页查询登录日志（?email=&success=&page=&page_size=）
func (s *Server) handleAdminLoginLogs(w http.ResponseWriter, r *http.Request) {
	pq := types.ParsePaginatedQuery(r.URL.Query(), "email", "success")
	logs, total, err := s.store.ListLoginLogs(r.Context(), pq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.PaginatedResponse(w, logs, types.NewPaginationResponse(pq, total))
}
