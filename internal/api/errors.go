package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"notesapp/internal/conflict"
	"notesapp/internal/db"
	"notesapp/internal/notes"
	"notesapp/internal/response"
	"notesapp/internal/types"
)

// writeError 把领域错误映射为 HTTP 响应
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var detected *notes.ConflictDetected
	var missing *conflict.MissingOverrideError
	var invalid *notes.InvalidResolutionError

	switch {
	case errors.As(err, &detected):
		rec := detected.Record
		response.ConflictResponse(w, "编辑冲突：笔记已被其他设备修改",
			types.NewConflictResponse(rec.ID, rec.State, rec.Conflict, rec.CreatedAt))
	case errors.As(err, &missing):
		fields := make([]string, len(missing.Fields))
		for i, f := range missing.Fields {
			fields[i] = string(f)
		}
		response.MissingFieldsResponse(w, missing.Error(), fields)
	case errors.As(err, &invalid):
		response.ValidationErrorResponse(w, invalid.Fields)
	case errors.Is(err, db.ErrNotFound):
		response.ErrorResponse(w, "资源不存在", http.StatusNotFound)
	case errors.Is(err, db.ErrVersionMismatch):
		response.ErrorResponse(w, "版本冲突：资源已被修改", http.StatusConflict)
	case errors.Is(err, db.ErrDuplicate):
		response.ErrorResponse(w, "资源已存在", http.StatusConflict)
	case errors.Is(err, conflict.ErrUnknownChoice):
		response.ErrorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, conflict.ErrInvalidTransition):
		response.ErrorResponse(w, "冲突已关闭", http.StatusConflict)
	default:
		// 包括 conflict.ErrIdentifierMismatch：属于服务器内部错误
		s.logger.Error("request failed", zap.Error(err))
		response.ErrorResponse(w, "内部服务器错误", http.StatusInternalServerError)
	}
}

// decodeJSON 解析请求体，失败时写入 400
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.ErrorResponse(w, "无效的请求体", http.StatusBadRequest)
		return false
	}
	return true
}
