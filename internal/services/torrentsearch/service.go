// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torrentsearch turns queued download requests into classified
// download entries on the media record.
package torrentsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/models"
	"github.com/koyomi-app/koyomi/internal/queue"
	"github.com/koyomi-app/koyomi/internal/services/nyaa"
)

type searchClient interface {
	Search(ctx context.Context, term string) ([]nyaa.Result, error)
}

type mediaStore interface {
	GetByID(ctx context.Context, id int64) (*models.MediaRecord, error)
	MergeDownloads(ctx context.Context, mediaID int64, episodeNumber int, items []models.EpisodeItem) error
}

type jobQueue interface {
	Enqueue(ctx context.Context, p queue.EnqueueParams) (int64, bool, error)
}

// Options carries the retry policy applied to search jobs.
type Options struct {
	MaxAttempts    int
	BackoffType    string
	BackoffSeconds int
}

// Service searches the torrent index for a media's episode and merges what
// it finds into the record.
type Service struct {
	store  mediaStore
	client searchClient
	queue  jobQueue
	opts   Options
	log    zerolog.Logger
}

func New(store mediaStore, client searchClient, q jobQueue, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		client: client,
		queue:  q,
		opts:   opts,
		log:    logger.With().Str("component", "torrentsearch").Logger(),
	}
}

// Request enqueues a search for one episode of one media. Requests for an
// episode already queued or retrying collapse onto the existing job.
func (s *Service) Request(ctx context.Context, mediaID int64, episode string) (int64, bool, error) {
	if mediaID <= 0 {
		return 0, false, fmt.Errorf("media id must be positive")
	}
	if _, err := strconv.Atoi(episode); err != nil {
		return 0, false, fmt.Errorf("episode %q is not a number", episode)
	}

	return s.queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:           queue.KindTorrentDownload,
		Payload:        queue.TorrentDownloadPayload{MediaID: mediaID, Episode: episode},
		DedupKey:       fmt.Sprintf("torrent:%d:%s", mediaID, episode),
		MaxAttempts:    s.opts.MaxAttempts,
		BackoffType:    s.opts.BackoffType,
		BackoffSeconds: s.opts.BackoffSeconds,
	})
}

// HandleJob processes one queued search. An index round trip that yields no
// matching release is the soft-empty outcome reported as queue.ErrRetry;
// a missing media record or unusable payload is a hard failure.
func (s *Service) HandleJob(ctx context.Context, job *queue.Job) error {
	var payload queue.TorrentDownloadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode download payload: %w", err)
	}

	episode, err := strconv.Atoi(payload.Episode)
	if err != nil {
		return fmt.Errorf("episode %q is not a number: %w", payload.Episode, err)
	}

	media, err := s.store.GetByID(ctx, payload.MediaID)
	if err != nil {
		return fmt.Errorf("load media %d: %w", payload.MediaID, err)
	}

	results, err := s.client.Search(ctx, media.Title.Romaji)
	if err != nil {
		return fmt.Errorf("search index for %q: %w", media.Title.Romaji, err)
	}

	matching := nyaa.FilterByEpisode(results, episode)

	items := make([]models.EpisodeItem, 0, len(matching))
	for _, r := range matching {
		c := nyaa.Classify(r.Name)
		items = append(items, models.EpisodeItem{
			Quality:   c.Quality,
			Codecs:    c.Codecs,
			Subtitles: []models.Subtitle{},
			Torrent:   r.ToTorrentRef(),
		})
	}

	err = s.store.MergeDownloads(ctx, media.ID, episode, items)
	if errors.Is(err, models.ErrNoResults) {
		s.log.Info().
			Str("slug", media.Slug).
			Str("episode", payload.Episode).
			Int("results", len(results)).
			Msg("No matching releases yet")
		return queue.ErrRetry
	}
	if err != nil {
		return fmt.Errorf("merge downloads for %q episode %s: %w", media.Slug, payload.Episode, err)
	}

	s.log.Info().
		Str("slug", media.Slug).
		Str("episode", payload.Episode).
		Int("downloads", len(items)).
		Msg("Stored download candidates")

	return nil
}
