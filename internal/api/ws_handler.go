package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notesapp/internal/auth"
	"notesapp/internal/crypto"
	"notesapp/internal/response"
	"notesapp/internal/websocket"
)

const wsProtocolPrefix = "notesapp."

// wsToken 优先从 Sec-WebSocket-Protocol 读取令牌，其次 query 参数和 Authorization 头
func wsToken(r *http.Request) (token, protocol string) {
	for _, p := range strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",") {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, wsProtocolPrefix) {
			return strings.TrimPrefix(p, wsProtocolPrefix), p
		}
	}
	if token = r.URL.Query().Get("token"); token != "" {
		return token, ""
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "), ""
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	encryptionRequested := r.URL.Query().Get("encryption") == "true"
	if s.cfg.WebSocket.EnforceEncryption && !encryptionRequested {
		s.logger.Warn("rejected unencrypted websocket connection", zap.String("remote", r.RemoteAddr))
		response.ErrorResponse(w, "必须启用加密WebSocket连接", http.StatusForbidden)
		return
	}
	if encryptionRequested && s.cm == nil {
		response.ErrorResponse(w, "服务器未配置加密", http.StatusBadRequest)
		return
	}

	token, protocol := wsToken(r)
	if token == "" {
		response.ErrorResponse(w, "未授权", http.StatusUnauthorized)
		return
	}
	claims, err := s.tokens.ValidateTokenOfType(token, auth.TokenTypeAccess)
	if err != nil {
		response.ErrorResponse(w, "无效的令牌", http.StatusUnauthorized)
		return
	}
	userID, err := claims.ID()
	if err != nil {
		response.ErrorResponse(w, "无效的令牌", http.StatusUnauthorized)
		return
	}

	// 没有设备 ID 的连接使用随机 ID，不会被当作事件的发起设备过滤掉
	device := deviceID(r)
	if device == "" {
		device = "anon-" + uuid.NewString()
	} else if err := s.store.TouchDevice(r.Context(), userID, device, r.UserAgent()); err != nil {
		s.logger.Warn("record device failed", zap.String("device_id", device), zap.Error(err))
	}

	var header http.Header
	if protocol != "" {
		header = http.Header{"Sec-Websocket-Protocol": {protocol}}
	}
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	var cm *crypto.Manager
	if encryptionRequested {
		cm = s.cm
	}
	sub := s.hub.Subscribe(userID, device)
	s.logger.Info("websocket connected",
		zap.Int64("user_id", userID),
		zap.String("device_id", device),
		zap.Bool("encryption", cm != nil),
	)
	websocket.NewClient(conn, sub, websocket.NewEncryptor(cm), s.logger.Named("ws")).Run()
}
