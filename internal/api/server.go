// Package api exposes the notes service over HTTP and websocket.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	gorillawebsocket "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notesapp/internal/auth"
	"notesapp/internal/config"
	"notesapp/internal/crypto"
	"notesapp/internal/db"
	"notesapp/internal/metrics"
	"notesapp/internal/notes"
	"notesapp/internal/ratelimit"
	"notesapp/internal/websocket"
)

type Server struct {
	cfg      *config.Config
	store    *db.Store
	notes    *notes.Service
	tokens   *auth.TokenIssuer
	hub      *websocket.Hub
	metrics  *metrics.Metrics
	limiter  *ratelimit.LoginLimiter
	cm       *crypto.Manager
	upgrader *gorillawebsocket.Upgrader
	logger   *zap.Logger
}

// New 组装服务器依赖
func New(cfg *config.Config, store *db.Store, logger *zap.Logger) (*Server, error) {
	var cm *crypto.Manager
	if cfg.WebSocket.EncryptionKey != "" {
		var err error
		cm, err = crypto.NewManager(cfg.WebSocket.EncryptionKey)
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	hub := websocket.NewHub(logger.Named("ws"), m)
	return &Server{
		cfg:      cfg,
		store:    store,
		notes:    notes.NewService(store, hub, m, logger.Named("notes")),
		tokens:   auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenDuration, cfg.Auth.RefreshTokenDuration),
		hub:      hub,
		metrics:  m,
		limiter:  ratelimit.NewLoginLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginWindow),
		cm:       cm,
		upgrader: websocket.NewUpgrader(cfg.Server.AllowedOrigins),
		logger:   logger,
	}, nil
}

// Handler 构建路由和中间件
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.Use(s.metricsMiddleware)
	router.Use(s.securityMiddleware)
	router.Use(headersMiddleware)
	if s.cm != nil {
		router.Use(crypto.NewEncryptionMiddleware(s.cm, s.logger).Handler)
	}

	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// Public
	router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods("POST")
	router.HandleFunc("/api/v1/auth/refresh", s.handleRefresh).Methods("POST")
	router.HandleFunc("/api/v1/auth/logout", s.handleLogout).Methods("POST")

	// Admin routes (requires authentication and admin role)
	admin := router.PathPrefix("/api/v1/admin").Subrouter()
	admin.Use(s.authMiddleware)
	admin.Use(s.adminMiddleware)
	admin.HandleFunc("/users", s.handleAdminListUsers).Methods("GET")
	admin.HandleFunc("/users/{id}/lock", s.handleAdminLockUser).Methods("POST")
	admin.HandleFunc("/users/{id}/unlock", s.handleAdminUnlockUser).Methods("POST")
	admin.HandleFunc("/logs/login", s.handleAdminLoginLogs).Methods("GET")

	// Protected
	protected := router.PathPrefix("/api/v1").Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/users/me", s.handleMe).Methods("GET")
	protected.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	protected.HandleFunc("/devices/{id}", s.handleRevokeDevice).Methods("DELETE")

	protected.HandleFunc("/notes/export", s.handleExportNotes).Methods("GET")
	protected.HandleFunc("/notes/import", s.handleImportNotes).Methods("POST")
	protected.HandleFunc("/notes", s.handleListNotes).Methods("GET")
	protected.HandleFunc("/notes", s.handleCreateNote).Methods("POST")
	protected.HandleFunc("/notes/{id}", s.handleGetNote).Methods("GET")
	protected.HandleFunc("/notes/{id}", s.handleUpdateNote).Methods("PUT")
	protected.HandleFunc("/notes/{id}", s.handleDeleteNote).Methods("DELETE")

	protected.HandleFunc("/conflicts", s.handleListConflicts).Methods("GET")
	protected.HandleFunc("/conflicts/{id}", s.handleGetConflict).Methods("GET")
	protected.HandleFunc("/conflicts/{id}/resolve", s.handleResolveConflict).Methods("POST")
	protected.HandleFunc("/conflicts/{id}", s.handleAbandonConflict).Methods("DELETE")

	protected.HandleFunc("/tags", s.handleListTags).Methods("GET")
	protected.HandleFunc("/tags/{name}", s.handleUpsertTag).Methods("PUT")
	protected.HandleFunc("/tags/{name}", s.handleDeleteTag).Methods("DELETE")

	protected.HandleFunc("/tasks/batch", s.handleBatchDeleteTasks).Methods("DELETE")
	protected.HandleFunc("/tasks/{id}/restore", s.handleRestoreTask).Methods("POST")
	protected.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	protected.HandleFunc("/tasks", s.handleCreateTask).Methods("POST")
	protected.HandleFunc("/tasks/{id}", s.handleGetTask).Methods("GET")
	protected.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods("PATCH")
	protected.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods("DELETE")

	// WebSocket endpoint (requires authentication, with optional encryption)
	router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Device-ID", crypto.HeaderEncrypted, crypto.HeaderAcceptEncrypted}),
		handlers.ExposedHeaders([]string{crypto.HeaderEncrypted}),
		handlers.AllowCredentials(),
	)(router)
}

// RunMaintenance 定期清理过期令牌、旧登录日志和限流记录，直到 ctx 结束
func (s *Server) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maintain(ctx)
		}
	}
}

func (s *Server) maintain(ctx context.Context) {
	if n, err := s.store.CleanupExpiredTokens(ctx); err != nil {
		s.logger.Warn("cleanup expired tokens failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("cleaned up expired tokens", zap.Int64("count", n))
	}
	if n, err := s.store.CleanupOldLoginLogs(ctx); err != nil {
		s.logger.Warn("cleanup login logs failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("cleaned up login logs", zap.Int64("count", n))
	}
	if n, err := s.store.CleanupOldDeletedTasks(ctx); err != nil {
		s.logger.Warn("cleanup deleted tasks failed", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("purged deleted tasks", zap.Int64("count", n))
	}
	s.limiter.Cleanup()
}

// Close 断开所有 WebSocket 订阅
func (s *Server) Close() {
	s.hub.Close()
}
