package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"notesapp/internal/auth"
	"notesapp/internal/db"
	"notesapp/internal/response"
	"notesapp/internal/validator"
)

const refreshCookie = "refresh_token"

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleHealth 健康检查端点
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check: database unreachable", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}
	response.SuccessResponse(w, map[string]interface{}{
		"status":                status,
		"time":                  time.Now().UTC().Format(time.RFC3339),
		"websocket_connections": s.hub.GetConnectedClientCount(),
	}, code)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		response.ErrorResponse(w, "无效的请求体", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	if req.Email == "" || req.Password == "" {
		response.ErrorResponse(w, "邮箱和密码是必填项", http.StatusBadRequest)
		return
	}
	if !validator.IsValidEmail(req.Email) {
		response.ErrorResponse(w, "邮箱格式无效", http.StatusBadRequest)
		return
	}

	ip := s.clientIP(r)
	if !s.limiter.Allow(ip) {
		s.metrics.RateLimitHits.Inc()
		response.ErrorResponse(w, "登录尝试次数过多，请稍后再试", http.StatusTooManyRequests)
		return
	}

	ctx := r.Context()
	user, err := s.store.ValidateUserCredentials(ctx, req.Email, req.Password)
	if logErr := s.store.LogLoginAttempt(ctx, req.Email, ip, err == nil); logErr != nil {
		s.logger.Warn("failed to log login attempt", zap.Error(logErr))
	}
	if err != nil {
		s.logger.Info("login failed", zap.String("email", req.Email), zap.String("ip", ip), zap.Error(err))
		switch {
		case errors.Is(err, db.ErrAccountLocked):
			response.ErrorResponse(w, "账户已被锁定，请稍后再试", http.StatusLocked)
		case errors.Is(err, db.ErrInvalidCredentials):
			response.ErrorResponse(w, "邮箱或密码错误", http.StatusUnauthorized)
		default:
			response.ErrorResponse(w, "内部服务器错误", http.StatusInternalServerError)
		}
		return
	}

	s.issueTokens(w, r, user.ID, user.Email, user.Role)
}

// issueTokens 生成访问令牌和刷新令牌，刷新令牌写入 HttpOnly cookie
func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, userID int64, email, role string) {
	accessToken, err := s.tokens.GenerateAccessToken(userID, email, role)
	if err != nil {
		s.logger.Error("generate access token failed", zap.Error(err))
		response.ErrorResponse(w, "内部服务器错误", http.StatusInternalServerError)
		return
	}
	refreshToken, err := s.tokens.GenerateRefreshToken(userID)
	if err != nil {
		s.logger.Error("generate refresh token failed", zap.Error(err))
		response.ErrorResponse(w, "内部服务器错误", http.StatusInternalServerError)
		return
	}

	expiresAt := time.Now().Add(s.tokens.RefreshDuration())
	if err := s.store.SaveRefreshToken(r.Context(), userID, refreshToken, expiresAt); err != nil {
		s.logger.Error("save refresh token failed", zap.Error(err))
		response.ErrorResponse(w, "内部服务器错误", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    refreshToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.IsProduction(),
		Expires:  expiresAt,
		SameSite: http.SameSiteStrictMode,
	})

	response.SuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   int(s.tokens.AccessDuration().Seconds()),
	}, http.StatusOK)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil {
		response.ErrorResponse(w, "未授权", http.StatusUnauthorized)
		return
	}
	claims, err := s.tokens.ValidateTokenOfType(c.Value, auth.TokenTypeRefresh)
	if err != nil {
		response.ErrorResponse(w, "未授权", http.StatusUnauthorized)
		return
	}
	userID, err := claims.ID()
	if err != nil {
		response.ErrorResponse(w, "未授权", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	valid, err := s.store.ValidateRefreshToken(ctx, userID, c.Value)
	if err != nil || !valid {
		response.ErrorResponse(w, "无效的刷新令牌", http.StatusUnauthorized)
		return
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		response.ErrorResponse(w, "无效的刷新令牌", http.StatusUnauthorized)
		return
	}

	// 轮换令牌：撤销旧令牌
	if err := s.store.RevokeRefreshToken(ctx, userID, c.Value); err != nil {
		s.logger.Warn("revoke refresh token failed", zap.Error(err))
	}
	s.issueTokens(w, r, user.ID, user.Email, user.Role)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookie); err == nil {
		if claims, err := s.tokens.ValidateTokenOfType(c.Value, auth.TokenTypeRefresh); err == nil {
			if userID, err := claims.ID(); err == nil {
				if err := s.store.RevokeRefreshToken(r.Context(), userID, c.Value); err != nil {
					s.logger.Warn("revoke refresh token failed", zap.Error(err))
				}
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.IsProduction(),
		MaxAge:   -1,
		SameSite: http.SameSiteStrictMode,
	})
	response.SuccessResponse(w, map[string]string{"status": "已登出"}, http.StatusOK)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUserByID(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, user, http.StatusOK)
}
