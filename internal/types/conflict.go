package types

import (
	"time"

	"notesapp/internal/conflict"
)

// NoteInput 创建/更新笔记的请求体
type NoteInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// UpdateNoteRequest 更新笔记：base_version 为客户端编辑时所基于的版本
type UpdateNoteRequest struct {
	NoteInput
	BaseVersion int64 `json:"base_version"`
}

// ResolveOverrides manual_merge 字段的手动值
type ResolveOverrides struct {
	Title   *string   `json:"title,omitempty"`
	Content *string   `json:"content,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
}

// ResolveConflictRequest 冲突解决请求：每个字段一个策略
type ResolveConflictRequest struct {
	Choices   map[string]string `json:"choices"`
	Overrides ResolveOverrides  `json:"overrides"`
}

// ConflictFlags 字段级冲突标记
type ConflictFlags struct {
	Title   bool `json:"title"`
	Content bool `json:"content"`
	Tags    bool `json:"tags"`
}

// ConflictResponse 返回给客户端用于展示冲突解决界面
type ConflictResponse struct {
	ConflictID    string                   `json:"conflict_id"`
	NoteID        string                   `json:"note_id"`
	State         conflict.State           `json:"state"`
	Conflicts     ConflictFlags            `json:"conflicts"`
	Current       conflict.VersionedRecord `json:"current"`
	Incoming      conflict.VersionedRecord `json:"incoming"`
	CurrentEditor string                   `json:"current_editor"`
	LastEditor    string                   `json:"last_editor"`
	LastModified  time.Time                `json:"last_modified"`
	Suggestion    conflict.Suggestion      `json:"suggestion"`
	Options       []ConflictResolution     `json:"options"`
	Resolution    *conflict.ResolvedRecord `json:"resolution,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
}

// ConflictResolution 冲突解决策略类型（与 conflict.ResolutionChoice 取值一致）
type ConflictResolution string

const (
	ConflictKeepCurrent  ConflictResolution = ConflictResolution(conflict.KeepCurrent)
	ConflictKeepIncoming ConflictResolution = ConflictResolution(conflict.KeepIncoming)
	ConflictManualMerge  ConflictResolution = ConflictResolution(conflict.ManualMerge)
)

// AllResolutions 所有可选策略
var AllResolutions = []ConflictResolution{ConflictKeepCurrent, ConflictKeepIncoming, ConflictManualMerge}

// NewConflictResponse 组装冲突响应
func NewConflictResponse(conflictID string, state conflict.State, c conflict.Conflict, createdAt time.Time) ConflictResponse {
	return ConflictResponse{
		ConflictID: conflictID,
		NoteID:     c.ID,
		State:      state,
		Conflicts: ConflictFlags{
			Title:   c.HasTitleConflict(),
			Content: c.HasContentConflict(),
			Tags:    c.HasTagConflict(),
		},
		Current:       c.Current,
		Incoming:      c.Incoming,
		CurrentEditor: c.CurrentEditor,
		LastEditor:    c.LastEditor,
		LastModified:  c.LastModified,
		Suggestion:    conflict.Suggest(c),
		Options:       AllResolutions,
		CreatedAt:     createdAt,
	}
}

// FieldLevelConflict 字段级冲突信息（任务的版本冲突）
type FieldLevelConflict struct {
	FieldName   string      `json:"field_name"`
	ServerValue interface{} `json:"server_value"`
	ClientValue interface{} `json:"client_value"`
}
