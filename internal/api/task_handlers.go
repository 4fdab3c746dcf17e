package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"notesapp/internal/db"
	"notesapp/internal/response"
	"notesapp/internal/types"
	"notesapp/internal/validator"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	pq := types.ParsePaginatedQuery(r.URL.Query(), "status", "priority")
	tasks, total, err := s.store.GetTasksPaginated(r.Context(), userIDFrom(r.Context()), pq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.PaginatedResponse(w, tasks, types.NewPaginationResponse(pq, total))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in types.TaskInput
	if !decodeJSON(w, r, &in) {
		return
	}
	write, ok := validTask(w, &in)
	if !ok {
		return
	}

	task, err := s.store.CreateTask(r.Context(), userIDFrom(r.Context()), write)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, task, http.StatusCreated)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.store.GetTask(r.Context(), userIDFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, task, http.StatusOK)
}

// handleUpdateTask client_version 过期时返回 409，附带服务器版本和字段级差异
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req types.UpdateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	write, ok := validTask(w, &req.TaskInput)
	if !ok {
		return
	}

	ctx := r.Context()
	userID := userIDFrom(ctx)
	task, err := s.store.UpdateTaskWithVersion(ctx, userID, id, req.ClientVersion, write)
	if errors.Is(err, db.ErrVersionMismatch) {
		current, getErr := s.store.GetTask(ctx, userID, id)
		if getErr != nil {
			s.writeError(w, getErr)
			return
		}
		response.ConflictResponse(w, "版本冲突：任务已被修改", map[string]interface{}{
			"server_version": current.Version,
			"client_version": req.ClientVersion,
			"server_task":    current,
			"fields":         taskFieldConflicts(current, write),
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, task, http.StatusOK)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := s.store.SoftDeleteTask(r.Context(), userIDFrom(r.Context()), id); err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

// maxBatchDelete 单次批量删除的任务上限
const maxBatchDelete = 500

// handleBatchDeleteTasks 批量软删除任务
func (s *Server) handleBatchDeleteTasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskIDs []int64 `json:"task_ids"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.TaskIDs) == 0 || len(req.TaskIDs) > maxBatchDelete {
		response.ValidationErrorResponse(w, map[string]string{"task_ids": "task_ids 数量必须在 1 到 " + strconv.Itoa(maxBatchDelete) + " 之间"})
		return
	}

	count, err := s.store.BatchDeleteTasks(r.Context(), userIDFrom(r.Context()), req.TaskIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, map[string]interface{}{
		"deleted":             count,
		"undo_window_seconds": int(db.UndoWindow.Seconds()),
	}, http.StatusOK)
}

// handleRestoreTask 恢复删除的任务（撤销）
func (s *Server) handleRestoreTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.store.RestoreTask(r.Context(), userIDFrom(r.Context()), id)
	var expired *db.UndoExpiredError
	if errors.As(err, &expired) {
		response.ErrorResponse(w, expired.Error(), http.StatusGone)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, task, http.StatusOK)
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		response.ErrorResponse(w, "无效的任务ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func validTask(w http.ResponseWriter, in *types.TaskInput) (db.TaskWrite, bool) {
	in.Title = strings.TrimSpace(validator.SanitizeInput(in.Title))
	in.Description = validator.SanitizeInput(in.Description)
	in.Defaults()
	if vr := validator.ValidateTask(*in); !vr.Valid {
		response.ValidationErrorResponse(w, vr.Fields())
		return db.TaskWrite{}, false
	}

	write := db.TaskWrite{
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
	}
	if in.DueAt != "" {
		due, _ := time.Parse(time.RFC3339, in.DueAt)
		write.DueAt = &due
	}
	return write, true
}

// taskFieldConflicts 列出服务器版本与客户端提交不同的字段
func taskFieldConflicts(server *db.Task, client db.TaskWrite) []types.FieldLevelConflict {
	out := []types.FieldLevelConflict{}
	add := func(name, serverValue, clientValue string) {
		if serverValue != clientValue {
			out = append(out, types.FieldLevelConflict{FieldName: name, ServerValue: serverValue, ClientValue: clientValue})
		}
	}
	add("title", server.Title, client.Title)
	add("description", server.Description, client.Description)
	add("status", server.Status, client.Status)
	add("priority", server.Priority, client.Priority)
	return out
}
