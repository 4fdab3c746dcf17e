package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notesapp/internal/conflict"
	"notesapp/internal/db"
	"notesapp/internal/metrics"
	"notesapp/internal/websocket"
)

type fixture struct {
	svc     *Service
	store   *db.Store
	hub     *websocket.Hub
	metrics *metrics.Metrics
	laptop  Actor
	phone   Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "notes.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	userID, err := store.CreateUser(context.Background(), "alice@example.com", "Str0ng!pass", "user")
	require.NoError(t, err)

	m := metrics.New()
	hub := websocket.NewHub(zap.NewNop(), m)
	return &fixture{
		svc:     NewService(store, hub, m, zap.NewNop()),
		store:   store,
		hub:     hub,
		metrics: m,
		laptop:  Actor{UserID: userID, Editor: "alice@laptop", DeviceID: "laptop"},
		phone:   Actor{UserID: userID, Editor: "alice@phone", DeviceID: "phone"},
	}
}

func nextEvent(t *testing.T, sub *websocket.Subscription) websocket.Message {
	t.Helper()
	select {
	case data := <-sub.C():
		var msg websocket.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no event")
		return websocket.Message{}
	}
}

func asConflict(t *testing.T, err error) *ConflictDetected {
	t.Helper()
	var cd *ConflictDetected
	require.True(t, errors.As(err, &cd), "expected *ConflictDetected, got %v", err)
	return cd
}

func TestCreateAndUpdatePublishToOtherDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phoneSub := f.hub.Subscribe(f.laptop.UserID, "phone")
	laptopSub := f.hub.Subscribe(f.laptop.UserID, "laptop")

	note, err := f.svc.Create(ctx, f.laptop, "Shopping", "milk", conflict.NewTagSet("home"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), note.Version)
	assert.Equal(t, websocket.EventNoteCreated, nextEvent(t, phoneSub).Type)

	updated, err := f.svc.Update(ctx, f.laptop, note.ID, Edit{
		Title: "Shopping", Content: "milk, eggs", Tags: conflict.NewTagSet("home"), BaseVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "alice@laptop", updated.Editor)

	ev := nextEvent(t, phoneSub)
	assert.Equal(t, websocket.EventNoteUpdated, ev.Type)
	assert.Equal(t, note.ID, ev.Data["note_id"])
	assert.Len(t, laptopSub.C(), 0)
}

func TestStaleUpdateRecordsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, f.laptop, "Shopping", "milk", conflict.NewTagSet("home"))
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.laptop, note.ID, Edit{Title: "Shopping list", Content: "milk", Tags: conflict.NewTagSet("home", "errands"), BaseVersion: 1})
	require.NoError(t, err)

	// 手机基于版本 1 编辑
	_, err = f.svc.Update(ctx, f.phone, note.ID, Edit{Title: "Groceries", Content: "milk", Tags: conflict.NewTagSet("food"), BaseVersion: 1})
	cd := asConflict(t, err)

	c := cd.Record.Conflict
	assert.Equal(t, conflict.StateAwaiting, cd.Record.State)
	assert.True(t, c.HasTitleConflict())
	assert.False(t, c.HasContentConflict())
	assert.True(t, c.HasTagConflict())
	assert.Equal(t, "alice@phone", c.CurrentEditor)
	assert.Equal(t, "alice@laptop", c.LastEditor)
	assert.Equal(t, int64(2), c.Current.Version)
	assert.Equal(t, int64(1), c.Incoming.Version)

	assert.Equal(t, "Groceries", cd.Suggestion.Title)
	assert.Equal(t, []string{"errands", "food", "home"}, cd.Suggestion.Tags.Slice())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Conflicts.WithLabelValues("detected")))

	// 冲突未写入笔记
	current, err := f.store.GetNote(ctx, f.laptop.UserID, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shopping list", current.Title)

	pending, err := f.svc.PendingConflicts(ctx, f.phone)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, cd.Record.ID, pending[0].ID)
}

func TestStaleIdenticalEditIsStillAConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	note, err := f.svc.Create(ctx, f.laptop, "Same", "body", conflict.NewTagSet())
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.laptop, note.ID, Edit{Title: "Same", Content: "body", BaseVersion: 1})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.phone, note.ID, Edit{Title: "Same", Content: "body", BaseVersion: 1})
	cd := asConflict(t, err)
	assert.False(t, cd.Record.Conflict.HasAnyConflict())
	assert.Empty(t, cd.Suggestion.Messages)
}

func TestUpdateUnknownNote(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Update(context.Background(), f.laptop, "missing", Edit{BaseVersion: 1})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func conflictedNote(t *testing.T, f *fixture) (*db.Note, *ConflictDetected) {
	t.Helper()
	ctx := context.Background()
	note, err := f.svc.Create(ctx, f.laptop, "Trip", "pack bags", conflict.NewTagSet("travel"))
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.laptop, note.ID, Edit{Title: "Trip to Rome", Content: "pack bags", Tags: conflict.NewTagSet("travel"), BaseVersion: 1})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.phone, note.ID, Edit{Title: "Trip", Content: "pack bags, passport", Tags: conflict.NewTagSet("italy"), BaseVersion: 1})
	return note, asConflict(t, err)
}

func TestResolveWritesMergedNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note, cd := conflictedNote(t, f)
	laptopSub := f.hub.Subscribe(f.laptop.UserID, "laptop")

	merged := conflict.NewTagSet("travel", "italy", "summer")
	resolved, err := f.svc.Resolve(ctx, f.phone, cd.Record.ID,
		conflict.Choices{Title: conflict.KeepCurrent, Content: conflict.KeepIncoming, Tags: conflict.ManualMerge},
		conflict.Overrides{Tags: &merged},
	)
	require.NoError(t, err)
	assert.Equal(t, "Trip to Rome", resolved.Title)
	assert.Equal(t, "pack bags, passport", resolved.Content)
	assert.Equal(t, []string{"italy", "summer", "travel"}, resolved.Tags.Slice())
	assert.Equal(t, "alice@phone", resolved.Editor)
	assert.Equal(t, int64(3), resolved.Version)

	rec, err := f.svc.Conflict(ctx, f.phone, cd.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, conflict.StateResolved, rec.State)
	require.NotNil(t, rec.Resolution)
	assert.Equal(t, "Trip to Rome", rec.Resolution.Title)
	assert.NotNil(t, rec.ClosedAt)

	assert.Equal(t, websocket.EventConflictResolved, nextEvent(t, laptopSub).Type)
	ev := nextEvent(t, laptopSub)
	assert.Equal(t, websocket.EventNoteUpdated, ev.Type)
	assert.Equal(t, note.ID, ev.Data["note_id"])
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Conflicts.WithLabelValues("resolved")))
}

func TestResolveMissingOverrideKeepsConflictOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, cd := conflictedNote(t, f)

	_, err := f.svc.Resolve(ctx, f.phone, cd.Record.ID,
		conflict.Choices{Title: conflict.ManualMerge, Content: conflict.KeepIncoming, Tags: conflict.KeepIncoming},
		conflict.Overrides{},
	)
	assert.ErrorIs(t, err, conflict.ErrMissingOverride)

	rec, err := f.svc.Conflict(ctx, f.phone, cd.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, conflict.StateAwaiting, rec.State)
}

func TestResolveRejectsInvalidOverrides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note, cd := conflictedNote(t, f)
	manualTitle := conflict.Choices{Title: conflict.ManualMerge, Content: conflict.KeepIncoming, Tags: conflict.KeepIncoming}

	blank := " \x00\t "
	_, err := f.svc.Resolve(ctx, f.phone, cd.Record.ID, manualTitle, conflict.Overrides{Title: &blank})
	var invalid *InvalidResolutionError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Fields, "title")

	long := strings.Repeat("x", 500)
	_, err = f.svc.Resolve(ctx, f.phone, cd.Record.ID, manualTitle, conflict.Overrides{Title: &long})
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Fields, "title")

	names := make([]string, 25)
	for i := range names {
		names[i] = fmt.Sprintf("tag%d", i)
	}
	tooMany := conflict.NewTagSet(names...)
	_, err = f.svc.Resolve(ctx, f.phone, cd.Record.ID,
		conflict.Choices{Title: conflict.KeepIncoming, Content: conflict.KeepIncoming, Tags: conflict.ManualMerge},
		conflict.Overrides{Tags: &tooMany})
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Fields, "tags")

	rec, err := f.svc.Conflict(ctx, f.phone, cd.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, conflict.StateAwaiting, rec.State)
	current, err := f.store.GetNote(ctx, f.laptop.UserID, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)

	// 控制字符被清理后写入
	dirty := "  Rome\x00 trip  "
	resolved, err := f.svc.Resolve(ctx, f.phone, cd.Record.ID, manualTitle, conflict.Overrides{Title: &dirty})
	require.NoError(t, err)
	assert.Equal(t, "Rome trip", resolved.Title)
}

func TestResolveAfterNewerWriteSupersedesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note, cd := conflictedNote(t, f)

	// 笔记在解决之前再次被修改（版本 3）
	_, err := f.svc.Update(ctx, f.laptop, note.ID, Edit{Title: "Trip to Rome", Content: "pack bags, tickets", Tags: conflict.NewTagSet("travel"), BaseVersion: 2})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, f.phone, cd.Record.ID, conflict.DefaultChoices(), conflict.Overrides{})
	fresh := asConflict(t, err)
	assert.NotEqual(t, cd.Record.ID, fresh.Record.ID)
	assert.Equal(t, int64(3), fresh.Record.Conflict.Current.Version)
	assert.Equal(t, "pack bags, passport", fresh.Record.Conflict.Incoming.Content)

	old, err := f.svc.Conflict(ctx, f.phone, cd.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, conflict.StateAbandoned, old.State)

	current, err := f.store.GetNote(ctx, f.laptop.UserID, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "pack bags, tickets", current.Content)
}

func TestAbandonedConflictCannotBeResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, cd := conflictedNote(t, f)

	require.NoError(t, f.svc.Abandon(ctx, f.phone, cd.Record.ID))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Conflicts.WithLabelValues("abandoned")))

	_, err := f.svc.Resolve(ctx, f.phone, cd.Record.ID, conflict.DefaultChoices(), conflict.Overrides{})
	assert.ErrorIs(t, err, conflict.ErrInvalidTransition)

	err = f.svc.Abandon(ctx, f.phone, cd.Record.ID)
	assert.ErrorIs(t, err, conflict.ErrInvalidTransition)
}

func TestDeleteChecksVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note, err := f.svc.Create(ctx, f.laptop, "Temp", "", conflict.NewTagSet())
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.phone, note.ID, 5), db.ErrVersionMismatch)
	require.NoError(t, f.svc.Delete(ctx, f.phone, note.ID, 1))

	_, err = f.svc.Get(ctx, f.laptop, note.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestDeleteAbandonsOpenConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note, cd := conflictedNote(t, f)

	require.NoError(t, f.svc.Delete(ctx, f.laptop, note.ID, 2))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Conflicts.WithLabelValues("abandoned")))

	pending, err := f.svc.PendingConflicts(ctx, f.phone)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.svc.Resolve(ctx, f.phone, cd.Record.ID, conflict.DefaultChoices(), conflict.Overrides{})
	assert.ErrorIs(t, err, conflict.ErrInvalidTransition)
}

func TestDeleteTagBumpsNoteVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	note, err := f.svc.Create(ctx, f.laptop, "Tagged", "", conflict.NewTagSet("work", "urgent"))
	require.NoError(t, err)

	affected, err := f.svc.DeleteTag(ctx, f.laptop, "urgent")
	require.NoError(t, err)
	assert.Equal(t, []string{note.ID}, affected)

	current, err := f.svc.Get(ctx, f.laptop, note.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)
	assert.Equal(t, []string{"work"}, current.Tags.Slice())

	// 基于旧版本的编辑进入冲突流程
	_, err = f.svc.Update(ctx, f.phone, note.ID, Edit{Title: "Tagged", Tags: conflict.NewTagSet("work", "urgent"), BaseVersion: 1})
	cd := asConflict(t, err)
	assert.True(t, cd.Record.Conflict.HasTagConflict())
}

func TestImportPublishesEachNote(t *testing.T) {
	f := newFixture(t)
	phone := f.hub.Subscribe(f.laptop.UserID, "phone")

	ids, err := f.svc.Import(context.Background(), f.laptop, []Edit{
		{Title: "one", Tags: conflict.NewTagSet("a")},
		{Title: ""},
		{Title: "two", Content: "body"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, id := range ids {
		msg := nextEvent(t, phone)
		assert.Equal(t, websocket.EventNoteCreated, msg.Type)
		assert.Equal(t, id, msg.Data["note_id"])
	}

	note, err := f.svc.Get(context.Background(), f.laptop, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "alice@laptop", note.Editor)
	assert.Equal(t, []string{"a"}, note.Tags.Slice())
}

func TestEachVisitsEveryNoteAcrossPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	edits := make([]Edit, exportPageSize+5)
	for i := range edits {
		edits[i] = Edit{Title: "note"}
	}
	_, err := f.svc.Import(ctx, f.laptop, edits)
	require.NoError(t, err)

	seen := map[string]bool{}
	err = f.svc.Each(ctx, f.laptop, func(n *db.Note) error {
		seen[n.ID] = true
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, exportPageSize+5)

	stop := errors.New("stop")
	calls := 0
	err = f.svc.Each(ctx, f.laptop, func(*db.Note) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
