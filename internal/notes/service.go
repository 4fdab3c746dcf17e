// Package notes is the write path for notes: optimistic version checks,
// conflict detection on stale edits, resolution and realtime fan-out.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"notesapp/internal/conflict"
	"notesapp/internal/db"
	"notesapp/internal/metrics"
	"notesapp/internal/types"
	"notesapp/internal/validator"
	"notesapp/internal/websocket"
)

// Store is the persistence the service needs; *db.Store implements it.
type Store interface {
	CreateNote(ctx context.Context, userID int64, w db.NoteWrite) (*db.Note, error)
	GetNote(ctx context.Context, userID int64, id string) (*db.Note, error)
	ListNotes(ctx context.Context, userID int64, pq *types.PaginatedQuery) ([]db.Note, int, error)
	UpdateNoteIfVersion(ctx context.Context, userID int64, id string, expectedVersion int64, w db.NoteWrite) (*db.Note, error)
	DeleteNote(ctx context.Context, userID int64, id string, expectedVersion int64) (int64, error)
	DeleteTag(ctx context.Context, userID int64, name string) ([]string, error)
	ImportNotes(ctx context.Context, userID int64, notes []db.NoteWrite) ([]string, error)

	SaveConflict(ctx context.Context, userID int64, c conflict.Conflict) (*db.ConflictRecord, error)
	GetConflict(ctx context.Context, userID int64, id string) (*db.ConflictRecord, error)
	ListPendingConflicts(ctx context.Context, userID int64) ([]db.ConflictRecord, error)
	AbandonConflict(ctx context.Context, userID int64, id string) error
	CommitResolution(ctx context.Context, userID int64, id string, resolved conflict.ResolvedRecord) (*db.Note, error)
}

// Publisher delivers change events to a user's other devices.
type Publisher interface {
	Publish(userID int64, ev websocket.Event) (int, error)
}

// Actor identifies who is writing: the authenticated user and the device
// the request came from. Editor is the name recorded on the note.
type Actor struct {
	UserID   int64
	Editor   string
	DeviceID string
}

// Edit is an incoming change made against BaseVersion.
type Edit struct {
	Title       string
	Content     string
	Tags        conflict.TagSet
	BaseVersion int64
}

// ConflictDetected is returned by Update and Resolve when the edit was made
// against a version that is no longer current. The conflict is already
// persisted and awaiting resolution.
type ConflictDetected struct {
	Record     *db.ConflictRecord
	Suggestion conflict.Suggestion
}

func (e *ConflictDetected) Error() string {
	return fmt.Sprintf("notes: edit of %s based on version %d conflicts with version %d",
		e.Record.NoteID, e.Record.Conflict.Incoming.Version, e.Record.Conflict.Current.Version)
}

// InvalidResolutionError is returned by Resolve when the merged note fails
// the checks every other write goes through. The conflict stays awaiting.
type InvalidResolutionError struct {
	Fields map[string]string
}

func (e *InvalidResolutionError) Error() string {
	return fmt.Sprintf("notes: resolved note is invalid: %v", e.Fields)
}

type Service struct {
	store   Store
	hub     Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService wires the service; hub and m may be nil.
func NewService(store Store, hub Publisher, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		hub:     hub,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, actor Actor, id string) (*db.Note, error) {
	return s.store.GetNote(ctx, actor.UserID, id)
}

func (s *Service) List(ctx context.Context, actor Actor, pq *types.PaginatedQuery) ([]db.Note, int, error) {
	return s.store.ListNotes(ctx, actor.UserID, pq)
}

// Create 创建笔记并通知其他设备
func (s *Service) Create(ctx context.Context, actor Actor, title, content string, tags conflict.TagSet) (*db.Note, error) {
	note, err := s.store.CreateNote(ctx, actor.UserID, db.NoteWrite{
		Title:   title,
		Content: content,
		Tags:    tags,
		Editor:  actor.Editor,
	})
	if err != nil {
		return nil, err
	}
	s.publish(actor, websocket.Event{Type: websocket.EventNoteCreated, NoteID: note.ID, Version: note.Version, Payload: note})
	return note, nil
}

// Import creates every note in one transaction and announces each one.
// Entries with an empty title are skipped.
func (s *Service) Import(ctx context.Context, actor Actor, edits []Edit) ([]string, error) {
	writes := make([]db.NoteWrite, len(edits))
	for i, e := range edits {
		writes[i] = db.NoteWrite{Title: e.Title, Content: e.Content, Tags: e.Tags, Editor: actor.Editor}
	}
	ids, err := s.store.ImportNotes(ctx, actor.UserID, writes)
	if err != nil {
		return nil, err
	}
	s.logger.Info("notes imported", zap.Int64("user_id", actor.UserID), zap.Int("count", len(ids)))
	for _, id := range ids {
		s.publish(actor, websocket.Event{Type: websocket.EventNoteCreated, NoteID: id, Version: 1})
	}
	return ids, nil
}

// exportPageSize 导出时每次读取的笔记数
const exportPageSize = 100

// Each calls fn for every live note of the user, oldest first, reading
// one page at a time.
func (s *Service) Each(ctx context.Context, actor Actor, fn func(*db.Note) error) error {
	pq := types.NewPaginatedQuery(1, exportPageSize)
	pq.Order = "ASC"
	for {
		page, total, err := s.store.ListNotes(ctx, actor.UserID, pq)
		if err != nil {
			return err
		}
		for i := range page {
			if err := fn(&page[i]); err != nil {
				return err
			}
		}
		if len(page) == 0 || pq.Page*pq.PageSize >= total {
			return nil
		}
		pq.Page++
	}
}

// Update writes the edit if BaseVersion is still current. Otherwise it
// records a conflict and returns *ConflictDetected. A stale edit with
// identical content is still reported, with every field flag false.
func (s *Service) Update(ctx context.Context, actor Actor, id string, edit Edit) (*db.Note, error) {
	current, err := s.store.GetNote(ctx, actor.UserID, id)
	if err != nil {
		return nil, err
	}
	if current.Version != edit.BaseVersion {
		return nil, s.recordConflict(ctx, actor, current, edit)
	}

	note, err := s.store.UpdateNoteIfVersion(ctx, actor.UserID, id, edit.BaseVersion, db.NoteWrite{
		Title:   edit.Title,
		Content: edit.Content,
		Tags:    edit.Tags,
		Editor:  actor.Editor,
	})
	if errors.Is(err, db.ErrVersionMismatch) {
		// 另一个写入抢先完成
		current, err = s.store.GetNote(ctx, actor.UserID, id)
		if err != nil {
			return nil, err
		}
		return nil, s.recordConflict(ctx, actor, current, edit)
	}
	if err != nil {
		return nil, err
	}

	s.publish(actor, websocket.Event{Type: websocket.EventNoteUpdated, NoteID: note.ID, Version: note.Version, Payload: note})
	return note, nil
}

func (s *Service) recordConflict(ctx context.Context, actor Actor, current *db.Note, edit Edit) error {
	incoming := conflict.VersionedRecord{
		ID:           current.ID,
		Version:      edit.BaseVersion,
		Title:        edit.Title,
		Content:      edit.Content,
		Tags:         edit.Tags,
		Editor:       actor.Editor,
		LastModified: s.now(),
	}
	c, err := conflict.Detect(current.Record(), incoming)
	if err != nil {
		return err
	}

	rec, err := s.store.SaveConflict(ctx, actor.UserID, c)
	if err != nil {
		return fmt.Errorf("save conflict: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ConflictDetected()
	}
	s.logger.Info("edit conflict detected",
		zap.String("conflict_id", rec.ID),
		zap.String("note_id", current.ID),
		zap.Int64("base_version", edit.BaseVersion),
		zap.Int64("current_version", current.Version),
		zap.Strings("fields", fieldNames(c.ConflictingFields())),
		zap.Bool("identical", !c.HasAnyConflict()),
	)
	s.publish(actor, websocket.Event{Type: websocket.EventConflictDetected, NoteID: current.ID, Version: current.Version,
		Payload: map[string]string{"conflict_id": rec.ID}})

	return &ConflictDetected{Record: rec, Suggestion: conflict.Suggest(c)}
}

// Delete 软删除笔记并放弃其等待中的冲突；版本不匹配时返回 db.ErrVersionMismatch
func (s *Service) Delete(ctx context.Context, actor Actor, id string, expectedVersion int64) error {
	abandoned, err := s.store.DeleteNote(ctx, actor.UserID, id, expectedVersion)
	if err != nil {
		return err
	}
	if abandoned > 0 {
		if s.metrics != nil {
			for i := int64(0); i < abandoned; i++ {
				s.metrics.ConflictAbandoned()
			}
		}
		s.logger.Info("conflicts abandoned with deleted note", zap.String("note_id", id), zap.Int64("count", abandoned))
	}
	s.publish(actor, websocket.Event{Type: websocket.EventNoteDeleted, NoteID: id, Version: expectedVersion + 1})
	return nil
}

// DeleteTag 删除标签；受影响的笔记版本号已递增
func (s *Service) DeleteTag(ctx context.Context, actor Actor, name string) ([]string, error) {
	affected, err := s.store.DeleteTag(ctx, actor.UserID, name)
	if err != nil {
		return nil, err
	}
	s.publish(actor, websocket.Event{Type: websocket.EventTagDeleted,
		Payload: map[string]interface{}{"tag": name, "note_ids": affected}})
	return affected, nil
}

// Conflict 获取冲突及其建议
func (s *Service) Conflict(ctx context.Context, actor Actor, id string) (*db.ConflictRecord, error) {
	return s.store.GetConflict(ctx, actor.UserID, id)
}

func (s *Service) PendingConflicts(ctx context.Context, actor Actor) ([]db.ConflictRecord, error) {
	return s.store.ListPendingConflicts(ctx, actor.UserID)
}

// Resolve applies the per-field choices to an awaiting conflict and writes
// the result. If the note moved on since the conflict was recorded, the old
// conflict is abandoned and a fresh *ConflictDetected is returned.
func (s *Service) Resolve(ctx context.Context, actor Actor, conflictID string, choices conflict.Choices, overrides conflict.Overrides) (*db.Note, error) {
	rec, err := s.store.GetConflict(ctx, actor.UserID, conflictID)
	if err != nil {
		return nil, err
	}
	if err := conflict.Transition(rec.State, conflict.StateResolved); err != nil {
		return nil, err
	}

	c := rec.Conflict
	c.CurrentEditor = actor.Editor
	resolved, err := conflict.Apply(c, choices, sanitizeOverrides(overrides))
	if err != nil {
		return nil, err
	}
	if vr := validator.ValidateNote(types.NoteInput{
		Title:   resolved.Title,
		Content: resolved.Content,
		Tags:    resolved.Tags.Slice(),
	}); !vr.Valid {
		return nil, &InvalidResolutionError{Fields: vr.Fields()}
	}

	note, err := s.store.CommitResolution(ctx, actor.UserID, conflictID, resolved)
	if errors.Is(err, db.ErrVersionMismatch) {
		return nil, s.supersede(ctx, actor, rec, resolved)
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ConflictResolved()
	}
	s.logger.Info("conflict resolved",
		zap.String("conflict_id", conflictID),
		zap.String("note_id", note.ID),
		zap.Int64("version", note.Version),
	)
	s.publish(actor, websocket.Event{Type: websocket.EventConflictResolved, NoteID: note.ID, Version: note.Version,
		Payload: map[string]string{"conflict_id": conflictID}})
	s.publish(actor, websocket.Event{Type: websocket.EventNoteUpdated, NoteID: note.ID, Version: note.Version, Payload: note})
	return note, nil
}

// sanitizeOverrides 与直接写入相同的清理：去除控制字符，标题去首尾空白
func sanitizeOverrides(o conflict.Overrides) conflict.Overrides {
	if o.Title != nil {
		title := strings.TrimSpace(validator.SanitizeInput(*o.Title))
		o.Title = &title
	}
	if o.Content != nil {
		content := validator.SanitizeInput(*o.Content)
		o.Content = &content
	}
	if o.Tags != nil {
		names := o.Tags.Slice()
		for i, n := range names {
			names[i] = validator.SanitizeInput(n)
		}
		tags := conflict.NewTagSet(names...)
		o.Tags = &tags
	}
	return o
}

// supersede 解决期间笔记又被修改：放弃旧冲突，以解决结果为新的输入重新检测
func (s *Service) supersede(ctx context.Context, actor Actor, rec *db.ConflictRecord, resolved conflict.ResolvedRecord) error {
	if err := s.Abandon(ctx, actor, rec.ID); err != nil {
		return err
	}
	current, err := s.store.GetNote(ctx, actor.UserID, rec.NoteID)
	if err != nil {
		return err
	}
	return s.recordConflict(ctx, actor, current, Edit{
		Title:       resolved.Title,
		Content:     resolved.Content,
		Tags:        resolved.Tags,
		BaseVersion: rec.Conflict.Current.Version,
	})
}

// Abandon 放弃等待中的冲突
func (s *Service) Abandon(ctx context.Context, actor Actor, conflictID string) error {
	if err := s.store.AbandonConflict(ctx, actor.UserID, conflictID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ConflictAbandoned()
	}
	s.logger.Info("conflict abandoned", zap.String("conflict_id", conflictID))
	return nil
}

func (s *Service) publish(actor Actor, ev websocket.Event) {
	if s.hub == nil {
		return
	}
	ev.OriginDevice = actor.DeviceID
	if _, err := s.hub.Publish(actor.UserID, ev); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func fieldNames(fields []conflict.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
