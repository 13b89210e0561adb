// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrentsearch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koyomi-app/koyomi/internal/models"
	"github.com/koyomi-app/koyomi/internal/queue"
	"github.com/koyomi-app/koyomi/internal/services/nyaa"
)

type fakeSearch struct {
	results []nyaa.Result
	err     error
	term    string
}

func (f *fakeSearch) Search(_ context.Context, term string) ([]nyaa.Result, error) {
	f.term = term
	return f.results, f.err
}

type fakeStore struct {
	media  map[int64]*models.MediaRecord
	merged map[int64]map[int][]models.EpisodeItem
}

func newFakeStore(records ...*models.MediaRecord) *fakeStore {
	s := &fakeStore{
		media:  make(map[int64]*models.MediaRecord),
		merged: make(map[int64]map[int][]models.EpisodeItem),
	}
	for _, r := range records {
		s.media[r.ID] = r
	}
	return s
}

func (s *fakeStore) GetByID(_ context.Context, id int64) (*models.MediaRecord, error) {
	rec, ok := s.media[id]
	if !ok {
		return nil, models.ErrMediaNotFound
	}
	return rec, nil
}

func (s *fakeStore) MergeDownloads(_ context.Context, mediaID int64, episode int, items []models.EpisodeItem) error {
	if len(items) == 0 {
		return models.ErrNoResults
	}
	if s.merged[mediaID] == nil {
		s.merged[mediaID] = make(map[int][]models.EpisodeItem)
	}
	s.merged[mediaID][episode] = append(s.merged[mediaID][episode], items...)
	return nil
}

type fakeQueue struct {
	params  []queue.EnqueueParams
	created bool
}

func (q *fakeQueue) Enqueue(_ context.Context, p queue.EnqueueParams) (int64, bool, error) {
	q.params = append(q.params, p)
	return int64(len(q.params)), q.created, nil
}

func downloadJob(t *testing.T, mediaID int64, episode string) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(queue.TorrentDownloadPayload{MediaID: mediaID, Episode: episode})
	require.NoError(t, err)
	return &queue.Job{ID: 1, Kind: queue.KindTorrentDownload, Payload: payload}
}

func newTestService(store *fakeStore, search *fakeSearch) *Service {
	return New(store, search, &fakeQueue{}, Options{}, zerolog.Nop())
}

func TestHandleJobStoresClassifiedDownloads(t *testing.T) {
	store := newFakeStore(&models.MediaRecord{
		ID:    42,
		Slug:  "example-show",
		Title: models.Title{Romaji: "Example Show"},
	})
	search := &fakeSearch{
		results: []nyaa.Result{
			{ID: "v1", Name: "[Group] Example Show - 05 [1080p][HEVC]"},
			{ID: "v2", Name: "[Group] Example Show - 05 [720p]"},
			{ID: "v3", Name: "[Group] Example Show - 06 [1080p]"},
		},
	}

	err := newTestService(store, search).HandleJob(context.Background(), downloadJob(t, 42, "05"))
	require.NoError(t, err)

	assert.Equal(t, "Example Show", search.term)

	items := store.merged[42][5]
	require.Len(t, items, 2)
	assert.Equal(t, "1080", items[0].Quality)
	assert.Equal(t, []string{"X265"}, items[0].Codecs)
	assert.Equal(t, "v1", items[0].Torrent.ID)
	assert.Equal(t, "NyaaSi", items[0].Torrent.Provider)
	assert.Equal(t, "720", items[1].Quality)
}

func TestHandleJobRejectsUnpaddedReleaseNames(t *testing.T) {
	store := newFakeStore(&models.MediaRecord{
		ID:    42,
		Title: models.Title{Romaji: "Example Show"},
	})
	search := &fakeSearch{
		results: []nyaa.Result{
			{ID: "v1", Name: "Example Show - 5 [720p]"},
			{ID: "v2", Name: "Example Show - 05 [1080p]"},
		},
	}

	// Only the release carrying the padded "05" marker counts; the unpadded
	// "- 5" form is not the same episode marker.
	err := newTestService(store, search).HandleJob(context.Background(), downloadJob(t, 42, "05"))
	require.NoError(t, err)
	items := store.merged[42][5]
	require.Len(t, items, 1)
	assert.Equal(t, "v2", items[0].Torrent.ID)
}

func TestHandleJobNoMatchesIsSoftEmpty(t *testing.T) {
	store := newFakeStore(&models.MediaRecord{
		ID:    42,
		Title: models.Title{Romaji: "Example Show"},
	})
	search := &fakeSearch{
		results: []nyaa.Result{
			{ID: "v1", Name: "Example Show - 09 [1080p]"},
		},
	}

	err := newTestService(store, search).HandleJob(context.Background(), downloadJob(t, 42, "05"))
	assert.ErrorIs(t, err, queue.ErrRetry)
	assert.Empty(t, store.merged)
}

func TestHandleJobMissingMediaIsHardError(t *testing.T) {
	err := newTestService(newFakeStore(), &fakeSearch{}).
		HandleJob(context.Background(), downloadJob(t, 999, "01"))

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMediaNotFound)
	assert.NotErrorIs(t, err, queue.ErrRetry)
}

func TestHandleJobSearchFailureIsHardError(t *testing.T) {
	store := newFakeStore(&models.MediaRecord{
		ID:    42,
		Title: models.Title{Romaji: "Example Show"},
	})
	search := &fakeSearch{err: errors.New("index unreachable")}

	err := newTestService(store, search).HandleJob(context.Background(), downloadJob(t, 42, "01"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrRetry)
}

func TestHandleJobBadEpisodePayload(t *testing.T) {
	store := newFakeStore(&models.MediaRecord{ID: 42})
	svc := newTestService(store, &fakeSearch{})

	err := svc.HandleJob(context.Background(), downloadJob(t, 42, "five"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrRetry)
}

func TestRequestEnqueuesWithDedupKey(t *testing.T) {
	q := &fakeQueue{created: true}
	svc := New(newFakeStore(), &fakeSearch{}, q, Options{
		MaxAttempts:    5,
		BackoffType:    queue.BackoffExponential,
		BackoffSeconds: 60,
	}, zerolog.Nop())

	_, created, err := svc.Request(context.Background(), 42, "05")
	require.NoError(t, err)
	assert.True(t, created)

	require.Len(t, q.params, 1)
	p := q.params[0]
	assert.Equal(t, queue.KindTorrentDownload, p.Kind)
	assert.Equal(t, "torrent:42:05", p.DedupKey)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, queue.BackoffExponential, p.BackoffType)
	assert.Equal(t, 60, p.BackoffSeconds)
}

func TestRequestValidatesInput(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeSearch{})

	_, _, err := svc.Request(context.Background(), 0, "05")
	assert.Error(t, err)

	_, _, err = svc.Request(context.Background(), 42, "five")
	assert.Error(t, err)
}
