package tag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&Tag{}))
	// stand-in for the join table owned by the event package
	require.NoError(t, gdb.Exec(`create table event_tags (event_id integer not null, tag_id integer not null)`).Error)
	return &Service{DB: gdb}
}

func associate(t *testing.T, gdb *gorm.DB, tagID uint64, eventIDs ...uint64) {
	t.Helper()
	for _, eid := range eventIDs {
		require.NoError(t, gdb.Exec(`insert into event_tags (event_id, tag_id) values (?, ?)`, eid, tagID).Error)
	}
}

func TestCreate(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "urgent", "#FFAA00")
	require.NoError(t, err)
	assert.Equal(t, "urgent", created.Name)
	assert.Equal(t, "ffaa00", created.Color, "color is normalized to lowercase without '#'")

	_, err = svc.Create(ctx, "urgent", "")
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = svc.Create(ctx, "näme!", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, "ok", "red")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateDefaultColorFromPalette(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "budget", "")
	require.NoError(t, err)
	assert.Contains(t, palette[:], created.Color)

	// same name always lands on the same palette entry
	assert.Equal(t, created.Color, paletteColor("budget"))
	assert.Equal(t, paletteColor("budget"), paletteColor("budget"))
}

func TestCreateMultipleIdempotent(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	names := []string{"alpha", "beta", "alpha", "gamma"}
	first, err := svc.CreateMultiple(ctx, names)
	require.NoError(t, err)
	require.Len(t, first, 3, "input duplicates collapse")

	second, err := svc.CreateMultiple(ctx, names)
	require.NoError(t, err)
	require.Len(t, second, 3)

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "repeat call returns the same ids")
		assert.Equal(t, first[i].Color, second[i].Color)
	}

	var count int64
	require.NoError(t, svc.DB.Model(&Tag{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	_, err = svc.CreateMultiple(ctx, []string{"fine", ""})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateMultipleMixesExistingAndNew(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	existing, err := svc.Create(ctx, "alpha", "112233")
	require.NoError(t, err)

	tags, err := svc.CreateMultiple(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, existing.ID, tags[0].ID)
	assert.Equal(t, "112233", tags[0].Color, "existing tag keeps its color")
	assert.NotZero(t, tags[1].ID)
}

func TestLookups(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "a", "")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "b", "")
	require.NoError(t, err)

	byID, err := svc.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", byID.Name)

	_, err = svc.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	byName, err := svc.GetByName(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byName.ID)

	_, err = svc.GetByName(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)

	byIDs, err := svc.GetByIDs(ctx, []uint64{a.ID, b.ID, 999})
	require.NoError(t, err)
	assert.Len(t, byIDs, 2)

	byNames, err := svc.GetByNames(ctx, []string{"a", "zzz"})
	require.NoError(t, err)
	assert.Len(t, byNames, 1)
}

func TestUpdate(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "a", "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "b", "")
	require.NoError(t, err)

	name := "renamed"
	color := "ABCDEF"
	updated, err := svc.Update(ctx, a.ID, UpdateInput{Name: &name, Color: &color})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "abcdef", updated.Color)

	clash := "b"
	_, err = svc.Update(ctx, a.ID, UpdateInput{Name: &clash})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = svc.Update(ctx, 999, UpdateInput{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesAssociationsOnly(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "a", "")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "b", "")
	require.NoError(t, err)
	associate(t, svc.DB, a.ID, 1, 2)
	associate(t, svc.DB, b.ID, 1)

	require.NoError(t, svc.Delete(ctx, a.ID))

	var linkCount int64
	require.NoError(t, svc.DB.Table("event_tags").Count(&linkCount).Error)
	assert.EqualValues(t, 1, linkCount, "only the deleted tag's links are removed")

	_, err = svc.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, a.ID), ErrNotFound)
}

func TestListWithCountsAndMostPopular(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	zulu, err := svc.Create(ctx, "zulu", "")
	require.NoError(t, err)
	alpha, err := svc.Create(ctx, "alpha", "")
	require.NoError(t, err)
	mike, err := svc.Create(ctx, "mike", "")
	require.NoError(t, err)

	associate(t, svc.DB, zulu.ID, 1, 2, 3)
	associate(t, svc.DB, alpha.ID, 1)
	associate(t, svc.DB, mike.ID, 2)

	all, err := svc.ListWithCounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// name ascending
	assert.Equal(t, "alpha", all[0].Name)
	assert.EqualValues(t, 1, all[0].EventCount)
	assert.Equal(t, "zulu", all[2].Name)
	assert.EqualValues(t, 3, all[2].EventCount)

	popular, err := svc.MostPopular(ctx, 2)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	assert.Equal(t, "zulu", popular[0].Name)
	// alpha and mike tie at 1; name ascending breaks the tie
	assert.Equal(t, "alpha", popular[1].Name)
}
