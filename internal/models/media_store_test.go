// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koyomi-app/koyomi/internal/database"
	"github.com/koyomi-app/koyomi/internal/models"
)

func setupTestStore(t *testing.T) *models.MediaStore {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return models.NewMediaStore(db)
}

func sampleRecord(slug string) *models.MediaRecord {
	start := time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC)
	return &models.MediaRecord{
		Slug: slug,
		Title: models.Title{
			Romaji:  "Example Show",
			English: "Example Show",
			Native:  "例のショー",
		},
		Provider: models.Provider{
			Name:    models.ProviderAniList,
			MediaID: 4242,
			SiteURL: "https://anilist.co/anime/4242",
		},
		Description:   "An example.",
		Genres:        []string{"Action"},
		Status:        "RELEASING",
		Season:        "FALL",
		SeasonYear:    2025,
		MediaType:     "ANIME",
		MediaFormat:   "TV",
		TotalEpisodes: 12,
		StartDate:     &start,
		NextAiring: &models.Airing{
			TimeUntilAiring: 86400,
			Episode:         6,
		},
	}
}

func TestUpsertInsertsNewRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	got, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	assert.NotZero(t, got.ID)
	assert.Equal(t, "example-show", got.Slug)
	assert.Equal(t, "Example Show", got.Title.Romaji)
	assert.Equal(t, models.ProviderAniList, got.Provider.Name)
	assert.Equal(t, 4242, got.Provider.MediaID)
	assert.Equal(t, []string{"Action"}, got.Genres)
	require.NotNil(t, got.StartDate)
	assert.Equal(t, "2025-10-04", got.StartDate.Format("2006-01-02"))
	require.NotNil(t, got.NextAiring)
	assert.Equal(t, 6, got.NextAiring.Episode)
	assert.Nil(t, got.Episodes)
	assert.Empty(t, got.Related)
}

func TestUpsertReplacesMetadataKeepsDownloads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	// Simulate an earlier torrent search and related reconciliation.
	require.NoError(t, store.MergeDownloads(ctx, first.ID, 1, []models.EpisodeItem{
		{
			Quality:   "1080",
			Codecs:    []string{"X265"},
			Subtitles: []models.Subtitle{},
			Torrent:   models.TorrentRef{ID: "t-1", Name: "Example Show - 01"},
		},
	}))
	require.NoError(t, store.SetRelated(ctx, first.ID, []int64{99}))

	update := sampleRecord("example-show")
	update.Description = "Updated description."
	update.AverageScore = 81
	update.NextAiring = &models.Airing{TimeUntilAiring: 3600, Episode: 7}

	second, err := store.Upsert(ctx, update)
	require.NoError(t, err)

	// Same row, refreshed metadata.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Updated description.", second.Description)
	assert.Equal(t, 81, second.AverageScore)
	require.NotNil(t, second.NextAiring)
	assert.Equal(t, 7, second.NextAiring.Episode)

	// Download and relation state survives the metadata replace.
	require.Len(t, second.Episodes, 1)
	assert.Equal(t, 1, second.Episodes[0].Episode)
	require.Len(t, second.Episodes[0].Downloads, 1)
	assert.Equal(t, "t-1", second.Episodes[0].Downloads[0].Torrent.ID)
	assert.Equal(t, []int64{99}, second.Related)
}

func TestUpsertRejectsEmptySlug(t *testing.T) {
	store := setupTestStore(t)

	rec := sampleRecord("")
	_, err := store.Upsert(context.Background(), rec)
	assert.Error(t, err)
}

func TestEnsureStubCreatesOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	stub := &models.MediaRecord{
		Slug:  "related-show",
		Title: models.Title{Romaji: "Related Show"},
		Provider: models.Provider{
			Name:    models.ProviderAniList,
			MediaID: 777,
		},
	}

	id1, err := store.EnsureStub(ctx, stub)
	require.NoError(t, err)
	require.NotZero(t, id1)

	id2, err := store.EnsureStub(ctx, stub)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestEnsureStubDoesNotOverwriteExisting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	full, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	stub := &models.MediaRecord{
		Slug:  "example-show",
		Title: models.Title{Romaji: "Stale Stub Title"},
	}
	id, err := store.EnsureStub(ctx, stub)
	require.NoError(t, err)
	assert.Equal(t, full.ID, id)

	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Example Show", got.Title.Romaji)
}

func TestSetRelatedReplacesWholesale(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	require.NoError(t, store.SetRelated(ctx, rec.ID, []int64{1, 2, 3}))
	require.NoError(t, store.SetRelated(ctx, rec.ID, []int64{4}))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, got.Related)

	require.NoError(t, store.SetRelated(ctx, rec.ID, nil))
	got, err = store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Related)
}

func TestSetRelatedMissingRecord(t *testing.T) {
	store := setupTestStore(t)

	err := store.SetRelated(context.Background(), 12345, []int64{1})
	assert.ErrorIs(t, err, models.ErrMediaNotFound)
}

func TestGetBySlugNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrMediaNotFound)
}

func TestMergeDownloadsCreatesEpisode(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	items := []models.EpisodeItem{
		{
			Quality:   "1080",
			Codecs:    []string{"X265"},
			Subtitles: []models.Subtitle{},
			Torrent:   models.TorrentRef{ID: "t-1", Name: "Example Show - 05 [1080p]"},
		},
		{
			Quality:   "720",
			Subtitles: []models.Subtitle{},
			Torrent:   models.TorrentRef{ID: "t-2", Name: "Example Show - 05 [720p]"},
		},
	}
	require.NoError(t, store.MergeDownloads(ctx, rec.ID, 5, items))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Episodes, 1)
	assert.Equal(t, 5, got.Episodes[0].Episode)
	require.Len(t, got.Episodes[0].Downloads, 2)
	assert.Equal(t, "t-1", got.Episodes[0].Downloads[0].Torrent.ID)
	assert.Equal(t, "t-2", got.Episodes[0].Downloads[1].Torrent.ID)
}

func TestMergeDownloadsDedupesByTorrentID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	first := []models.EpisodeItem{
		{Torrent: models.TorrentRef{ID: "t-1", Name: "first sighting"}},
	}
	require.NoError(t, store.MergeDownloads(ctx, rec.ID, 3, first))

	// Re-running the same search must not duplicate t-1, and the stored
	// item keeps its original fields.
	second := []models.EpisodeItem{
		{Quality: "1080", Torrent: models.TorrentRef{ID: "t-1", Name: "second sighting"}},
		{Torrent: models.TorrentRef{ID: "t-2", Name: "new"}},
	}
	require.NoError(t, store.MergeDownloads(ctx, rec.ID, 3, second))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Episodes, 1)
	require.Len(t, got.Episodes[0].Downloads, 2)
	assert.Equal(t, "first sighting", got.Episodes[0].Downloads[0].Torrent.Name)
	assert.Equal(t, "", got.Episodes[0].Downloads[0].Quality)
	assert.Equal(t, "t-2", got.Episodes[0].Downloads[1].Torrent.ID)
}

func TestMergeDownloadsKeepsOtherEpisodes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	require.NoError(t, store.MergeDownloads(ctx, rec.ID, 1, []models.EpisodeItem{
		{Torrent: models.TorrentRef{ID: "e1-t1"}},
	}))
	require.NoError(t, store.MergeDownloads(ctx, rec.ID, 2, []models.EpisodeItem{
		{Torrent: models.TorrentRef{ID: "e2-t1"}},
	}))

	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Episodes, 2)
	assert.NotNil(t, got.EpisodeByNumber(1))
	assert.NotNil(t, got.EpisodeByNumber(2))
}

func TestMergeDownloadsEmptyItems(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec, err := store.Upsert(ctx, sampleRecord("example-show"))
	require.NoError(t, err)

	err = store.MergeDownloads(ctx, rec.ID, 1, nil)
	assert.ErrorIs(t, err, models.ErrNoResults)

	// No empty episode entry may appear.
	got, err := store.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Episodes)
}

func TestMergeDownloadsMissingMedia(t *testing.T) {
	store := setupTestStore(t)

	err := store.MergeDownloads(context.Background(), 9876, 1, []models.EpisodeItem{
		{Torrent: models.TorrentRef{ID: "t-1"}},
	})
	assert.ErrorIs(t, err, models.ErrMediaNotFound)
}
