package event

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"logbook/internal/jobs"
	"logbook/internal/logger"
	"logbook/internal/pagination"
	"logbook/internal/storage"
	"logbook/internal/tag"
	"logbook/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&user.User{}, &tag.Tag{}, &Event{}, &EventEditHistory{}, &Attachment{}, &jobs.Job{},
	))
	return gdb
}

func newService(t *testing.T) *Service {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return &Service{DB: testDB(t), Files: files, Log: logger.Nop()}
}

func seedUser(t *testing.T, gdb *gorm.DB, username string) *user.User {
	t.Helper()
	u := &user.User{
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  username,
		PasswordHash: "x",
	}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func seedTag(t *testing.T, gdb *gorm.DB, name string) *tag.Tag {
	t.Helper()
	tg := &tag.Tag{Name: name, Color: "aabbcc"}
	require.NoError(t, gdb.Create(tg).Error)
	return tg
}

func ptr[T any](v T) *T { return &v }

func TestCreateHydratesAndDefaults(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	u1 := seedUser(t, svc.DB, "alice")
	u2 := seedUser(t, svc.DB, "bob")
	tg := seedTag(t, svc.DB, "standup")

	before := time.Now()
	ev, err := svc.Create(ctx, CreateInput{
		Title:           "Standup",
		Content:         "Daily sync",
		Type:            TypeSimpleMessage,
		Metadata:        map[string]any{"room": "3a"},
		AssignedUserIDs: []uint64{u2.ID},
		TagIDs:          []uint64{tg.ID},
	}, u1.ID)
	require.NoError(t, err)

	assert.Equal(t, u1.ID, ev.CreatorID)
	require.NotNil(t, ev.Creator)
	assert.Equal(t, "alice", ev.Creator.Username)
	require.Len(t, ev.AssignedUsers, 1)
	assert.Equal(t, u2.ID, ev.AssignedUsers[0].ID)
	require.Len(t, ev.Tags, 1)
	assert.Equal(t, tg.ID, ev.Tags[0].ID)
	assert.Empty(t, ev.Attachments)
	assert.JSONEq(t, `{"room":"3a"}`, string(ev.Metadata))

	// timestamp defaults to creation time when omitted
	assert.False(t, ev.Timestamp.Before(before.Add(-time.Second)))
	assert.False(t, ev.Timestamp.After(time.Now().Add(time.Second)))
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"empty title", CreateInput{Title: "", Content: "c", Type: TypeText}},
		{"long title", CreateInput{Title: strings.Repeat("x", 256), Content: "c", Type: TypeText}},
		{"empty content", CreateInput{Title: "t", Content: "  ", Type: TypeText}},
		{"bad type", CreateInput{Title: "t", Content: "c", Type: "party"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in, u1.ID)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateInvalidReferenceWritesNothing(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")
	tg := seedTag(t, svc.DB, "real")

	_, err := svc.Create(ctx, CreateInput{
		Title: "t", Content: "c", Type: TypeText,
		TagIDs: []uint64{tg.ID, 9999},
	}, u1.ID)
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = svc.Create(ctx, CreateInput{
		Title: "t", Content: "c", Type: TypeText,
		AssignedUserIDs: []uint64{9999},
	}, u1.ID)
	assert.ErrorIs(t, err, ErrInvalidReference)

	var count int64
	require.NoError(t, svc.DB.Model(&Event{}).Count(&count).Error)
	assert.Zero(t, count, "failed creates must not leave partial rows")
}

func TestUpdateDiffAndHistory(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")
	tg := seedTag(t, svc.DB, "t1")

	ev, err := svc.Create(ctx, CreateInput{
		Title: "Standup", Content: "Daily sync", Type: TypeSimpleMessage,
		TagIDs: []uint64{tg.ID},
	}, u1.ID)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, ev.ID, UpdateInput{Title: ptr("Standup notes")}, u1.ID)
	require.NoError(t, err)

	// creator and creation time never change across updates
	assert.Equal(t, ev.CreatorID, updated.CreatorID)
	assert.WithinDuration(t, ev.CreatedAt, updated.CreatedAt, time.Millisecond)
	assert.Equal(t, "Standup notes", updated.Title)
	require.Len(t, updated.Tags, 1, "untouched tag set survives")

	history, err := svc.GetHistory(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, u1.ID, history[0].EditorID)
	assert.JSONEq(t, `{"title":{"from":"Standup","to":"Standup notes"}}`, string(history[0].Changes))

	// same values again: no new history row
	_, err = svc.Update(ctx, ev.ID, UpdateInput{Title: ptr("Standup notes")}, u1.ID)
	require.NoError(t, err)
	history, err = svc.GetHistory(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// multi-field change: still exactly one row, both fields recorded
	_, err = svc.Update(ctx, ev.ID, UpdateInput{
		Title:   ptr("Retro"),
		Content: ptr("Weekly retro"),
	}, u1.ID)
	require.NoError(t, err)
	history, err = svc.GetHistory(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.JSONEq(t,
		`{"title":{"from":"Standup notes","to":"Retro"},"content":{"from":"Daily sync","to":"Weekly retro"}}`,
		string(history[1].Changes))
}

func TestUpdateAssociationReplaceAndClear(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")
	u2 := seedUser(t, svc.DB, "bob")
	t1 := seedTag(t, svc.DB, "one")
	t2 := seedTag(t, svc.DB, "two")

	ev, err := svc.Create(ctx, CreateInput{
		Title: "t", Content: "c", Type: TypeText,
		AssignedUserIDs: []uint64{u2.ID},
		TagIDs:          []uint64{t1.ID},
	}, u1.ID)
	require.NoError(t, err)

	// replace tags, leave assignees untouched (field absent)
	updated, err := svc.Update(ctx, ev.ID, UpdateInput{TagIDs: ptr([]uint64{t2.ID})}, u1.ID)
	require.NoError(t, err)
	require.Len(t, updated.Tags, 1)
	assert.Equal(t, t2.ID, updated.Tags[0].ID)
	require.Len(t, updated.AssignedUsers, 1)

	// association-only update appends no history
	history, err := svc.GetHistory(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	// empty slice clears the set
	updated, err = svc.Update(ctx, ev.ID, UpdateInput{
		TagIDs:          ptr([]uint64{}),
		AssignedUserIDs: ptr([]uint64{}),
	}, u1.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.Tags)
	assert.Empty(t, updated.AssignedUsers)

	// unknown reference rejects the whole update, set stays cleared
	_, err = svc.Update(ctx, ev.ID, UpdateInput{TagIDs: ptr([]uint64{9999})}, u1.ID)
	assert.ErrorIs(t, err, ErrInvalidReference)
	got, err := svc.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
}

func TestUpdateNotFound(t *testing.T) {
	svc := newService(t)
	_, err := svc.Update(context.Background(), 42, UpdateInput{Title: ptr("x")}, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCascades(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")
	u2 := seedUser(t, svc.DB, "bob")
	tg := seedTag(t, svc.DB, "keep-me")

	ev, err := svc.Create(ctx, CreateInput{
		Title: "t", Content: "c", Type: TypeDocument,
		AssignedUserIDs: []uint64{u2.ID},
		TagIDs:          []uint64{tg.ID},
	}, u1.ID)
	require.NoError(t, err)

	att, err := svc.AddAttachment(ctx, ev.ID, strings.NewReader("hello"), "notes.txt", "text/plain")
	require.NoError(t, err)

	_, err = svc.Update(ctx, ev.ID, UpdateInput{Title: ptr("t2")}, u1.ID)
	require.NoError(t, err)

	deleted, err := svc.Delete(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	for table, model := range map[string]any{
		"assignments": &EventAssignment{},
		"tags":        &EventTag{},
		"attachments": &Attachment{},
		"history":     &EventEditHistory{},
	} {
		var count int64
		require.NoError(t, svc.DB.Model(model).Count(&count).Error)
		assert.Zero(t, count, "orphaned %s rows", table)
	}

	// the tag itself survives
	var tagCount int64
	require.NoError(t, svc.DB.Model(&tag.Tag{}).Count(&tagCount).Error)
	assert.EqualValues(t, 1, tagCount)

	// a purge job for the attachment file was enqueued in the same tx
	var job jobs.Job
	require.NoError(t, svc.DB.Where("type = ?", jobs.TypeFilePurge).First(&job).Error)
	assert.Contains(t, string(job.Payload), att.FileName)
}

func TestCreatorID(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")

	ev, err := svc.Create(ctx, CreateInput{Title: "a", Content: "c", Type: TypeText}, u1.ID)
	require.NoError(t, err)

	cid, err := svc.CreatorID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, u1.ID, cid)

	_, err = svc.CreatorID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMissingReturnsFalseNil(t *testing.T) {
	svc := newService(t)
	deleted, err := svc.Delete(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteByCreator(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")
	u2 := seedUser(t, svc.DB, "bob")

	for i := 0; i < 2; i++ {
		_, err := svc.Create(ctx, CreateInput{Title: "a", Content: "c", Type: TypeText}, u1.ID)
		require.NoError(t, err)
	}
	keep, err := svc.Create(ctx, CreateInput{Title: "b", Content: "c", Type: TypeText}, u2.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteByCreator(ctx, nil, u1.ID))

	var remaining []Event
	require.NoError(t, svc.DB.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)
}

func TestDeleteByCreatorJoinsOuterTx(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")

	ev, err := svc.Create(ctx, CreateInput{Title: "a", Content: "c", Type: TypeText}, u1.ID)
	require.NoError(t, err)

	err = svc.DB.Transaction(func(tx *gorm.DB) error {
		if err := svc.DeleteByCreator(ctx, tx, u1.ID); err != nil {
			return err
		}
		return assert.AnError // force a rollback of the whole unit
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := svc.GetByID(ctx, ev.ID)
	require.NoError(t, err, "rollback restores the cascaded event")
	assert.Equal(t, ev.ID, got.ID)
}

func TestListPagination(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 25; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		_, err := svc.Create(ctx, CreateInput{
			Title: fmt.Sprintf("event %02d", i), Content: "c", Type: TypeText,
			Timestamp: &ts,
		}, u1.ID)
		require.NoError(t, err)
	}

	events, pg, err := svc.List(ctx, pagination.Params{Page: 2, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, pagination.Pagination{Page: 2, Limit: 10, Total: 25, TotalPages: 3}, pg)
	require.Len(t, events, 10)
	// descending timestamps: page 2 holds events 15..6
	assert.Equal(t, "event 15", events[0].Title)
	assert.Equal(t, "event 06", events[9].Title)
}

func TestListByDateRangeInclusive(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")

	days := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	for i, ts := range days {
		ts := ts
		_, err := svc.Create(ctx, CreateInput{
			Title: fmt.Sprintf("e%d", i), Content: "c", Type: TypeEmail, Timestamp: &ts,
		}, u1.ID)
		require.NoError(t, err)
	}

	events, pg, err := svc.ListByDateRange(ctx,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		pagination.Params{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, pg.Total, "both range ends are inclusive")
	assert.Len(t, events, 3)
}

func TestGetStats(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")

	for _, typ := range []Type{TypeEmail, TypeEmail, TypeText} {
		_, err := svc.Create(ctx, CreateInput{Title: "t", Content: "c", Type: typ}, u1.ID)
		require.NoError(t, err)
	}

	old, err := svc.Create(ctx, CreateInput{Title: "old", Content: "c", Type: TypeDocument}, u1.ID)
	require.NoError(t, err)
	require.NoError(t, svc.DB.Model(&Event{}).Where("id = ?", old.ID).
		UpdateColumn("created_at", time.Now().AddDate(0, 0, -30)).Error)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 2, stats.ByType[TypeEmail])
	assert.EqualValues(t, 1, stats.ByType[TypeText])
	assert.EqualValues(t, 1, stats.ByType[TypeDocument])
	assert.EqualValues(t, 0, stats.ByType[TypePhotoWithNotes])
	assert.EqualValues(t, 3, stats.CreatedLast7Days)
}

func TestAttachmentLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	u1 := seedUser(t, svc.DB, "alice")

	ev, err := svc.Create(ctx, CreateInput{Title: "t", Content: "c", Type: TypePhotoWithNotes}, u1.ID)
	require.NoError(t, err)

	att, err := svc.AddAttachment(ctx, ev.ID, strings.NewReader("imagedata"), "pic.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.EqualValues(t, len("imagedata"), att.Size)
	assert.Equal(t, "pic.jpg", att.OriginalName)
	assert.True(t, strings.HasSuffix(att.FileName, ".jpg"))

	got, err := svc.GetAttachment(ctx, ev.ID, att.ID)
	require.NoError(t, err)
	assert.Equal(t, att.FileName, got.FileName)

	require.NoError(t, svc.RemoveAttachment(ctx, ev.ID, att.ID))
	_, err = svc.GetAttachment(ctx, ev.ID, att.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// purge job carries the stored name
	var job jobs.Job
	require.NoError(t, svc.DB.Where("type = ?", jobs.TypeFilePurge).First(&job).Error)
	assert.Contains(t, string(job.Payload), att.FileName)

	err = svc.RemoveAttachment(ctx, ev.ID, att.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.AddAttachment(ctx, 9999, strings.NewReader("x"), "a.txt", "")
	assert.ErrorIs(t, err, ErrNotFound)
}
