package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"notesapp/internal/conflict"
	"notesapp/internal/db"
	"notesapp/internal/notes"
	"notesapp/internal/response"
	"notesapp/internal/types"
	"notesapp/internal/validator"
)

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	pq := types.ParsePaginatedQuery(r.URL.Query(), "tag", "q")
	list, total, err := s.notes.List(r.Context(), actorFrom(r), pq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.PaginatedResponse(w, list, types.NewPaginationResponse(pq, total))
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var in types.NoteInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if !s.validNote(w, &in) {
		return
	}

	note, err := s.notes.Create(r.Context(), actorFrom(r), in.Title, in.Content, conflict.NewTagSet(in.Tags...))
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, note, http.StatusCreated)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.notes.Get(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, note, http.StatusOK)
}

// handleUpdateNote 基于 base_version 的条件更新；版本过期时返回 409 和冲突详情
func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BaseVersion < 1 {
		response.ValidationErrorResponse(w, map[string]string{"base_version": "base_version 是必填项"})
		return
	}
	if !s.validNote(w, &req.NoteInput) {
		return
	}

	note, err := s.notes.Update(r.Context(), actorFrom(r), mux.Vars(r)["id"], notes.Edit{
		Title:       req.Title,
		Content:     req.Content,
		Tags:        conflict.NewTagSet(req.Tags...),
		BaseVersion: req.BaseVersion,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, note, http.StatusOK)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(r.URL.Query().Get("version"), 10, 64)
	if err != nil || version < 1 {
		response.ValidationErrorResponse(w, map[string]string{"version": "version 是必填项"})
		return
	}
	if err := s.notes.Delete(r.Context(), actorFrom(r), mux.Vars(r)["id"], version); err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, map[string]string{"status": "deleted"}, http.StatusOK)
}

// validNote 清理并校验笔记输入
func (s *Server) validNote(w http.ResponseWriter, in *types.NoteInput) bool {
	in.Title = strings.TrimSpace(validator.SanitizeInput(in.Title))
	in.Content = validator.SanitizeInput(in.Content)
	if vr := validator.ValidateNote(*in); !vr.Valid {
		response.ValidationErrorResponse(w, vr.Fields())
		return false
	}
	return true
}

func conflictView(rec *db.ConflictRecord) types.ConflictResponse {
	view := types.NewConflictResponse(rec.ID, rec.State, rec.Conflict, rec.CreatedAt)
	view.Resolution = rec.Resolution
	return view
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := s.notes.PendingConflicts(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]types.ConflictResponse, len(records))
	for i := range records {
		views[i] = conflictView(&records[i])
	}
	response.SuccessResponse(w, views, http.StatusOK)
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	rec, err := s.notes.Conflict(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, conflictView(rec), http.StatusOK)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req types.ResolveConflictRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	choices, err := parseChoices(req.Choices)
	if err != nil {
		s.writeError(w, err)
		return
	}
	overrides := conflict.Overrides{
		Title:   req.Overrides.Title,
		Content: req.Overrides.Content,
	}
	if req.Overrides.Tags != nil {
		tags := conflict.NewTagSet(*req.Overrides.Tags...)
		overrides.Tags = &tags
	}

	note, err := s.notes.Resolve(r.Context(), actorFrom(r), mux.Vars(r)["id"], choices, overrides)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, note, http.StatusOK)
}

// parseChoices 未给出的字段默认 keep_incoming
func parseChoices(raw map[string]string) (conflict.Choices, error) {
	choices := conflict.DefaultChoices()
	for field, value := range raw {
		choice, err := conflict.ParseResolutionChoice(value)
		if err != nil {
			return choices, fmt.Errorf("%s: %w", field, err)
		}
		switch conflict.Field(field) {
		case conflict.FieldTitle:
			choices.Title = choice
		case conflict.FieldContent:
			choices.Content = choice
		case conflict.FieldTags:
			choices.Tags = choice
		default:
			return choices, fmt.Errorf("%w: unknown field %q", conflict.ErrUnknownChoice, field)
		}
	}
	return choices, nil
}

func (s *Server) handleAbandonConflict(w http.ResponseWriter, r *http.Request) {
	if err := s.notes.Abandon(r.Context(), actorFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, map[string]string{"status": string(conflict.StateAbandoned)}, http.StatusOK)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, tags, http.StatusOK)
}

func (s *Server) handleUpsertTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Color string `json:"color"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	name := strings.TrimSpace(mux.Vars(r)["name"])
	if errs := validator.ValidateTags([]string{name}); name == "" || len(errs) > 0 {
		response.ValidationErrorResponse(w, map[string]string{"name": "无效的标签名"})
		return
	}
	if !validator.IsValidTagColor(req.Color) {
		response.ValidationErrorResponse(w, map[string]string{"color": "颜色必须是 #RRGGBB 格式"})
		return
	}

	tag, err := s.store.UpsertTag(r.Context(), userIDFrom(r.Context()), name, req.Color)
	if err != nil {
		s.writeError(w, err)
		return
	}
	response.SuccessResponse(w, tag, http.StatusOK)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	affected, err := s.notes.DeleteTag(r.Context(), actorFrom(r), mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if affected == nil {
		affected = []string{}
	}
	response.SuccessResponse(w, map[string]interface{}{"affected_notes": affected}, http.StatusOK)
}
