// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package harvest walks the provider's weekly airing schedule and reconciles
// it into the media store.
package harvest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/alerts"
	"github.com/koyomi-app/koyomi/internal/metrics"
	"github.com/koyomi-app/koyomi/internal/models"
	"github.com/koyomi-app/koyomi/internal/services/anilist"
	"github.com/koyomi-app/koyomi/internal/slug"
)

type scheduleClient interface {
	FetchSchedulePage(ctx context.Context, windowStart, windowEnd time.Time, page int) (*anilist.SchedulePage, error)
}

type assetFetcher interface {
	Fetch(ctx context.Context, url string) string
}

type mediaStore interface {
	Upsert(ctx context.Context, rec *models.MediaRecord) (*models.MediaRecord, error)
	EnsureStub(ctx context.Context, stub *models.MediaRecord) (int64, error)
	SetRelated(ctx context.Context, id int64, related []int64) error
}

// Reason is a run's terminal condition.
type Reason string

const (
	// ReasonEmptyPage means the provider returned a page with no entries.
	ReasonEmptyPage Reason = "empty-page"
	// ReasonNoMorePages means the provider reported the last page.
	ReasonNoMorePages Reason = "no-more-pages"
	// ReasonAborted means a page fetch failed and the run stopped early.
	ReasonAborted Reason = "aborted"
)

// Report summarizes one harvest run. A run with failed entries still counts
// as successful; only a page-level failure aborts.
type Report struct {
	Pages         int
	EntriesStored int
	EntriesFailed int
	Reason        Reason
	Started       time.Time
	Finished      time.Time
}

// Harvester drives harvest runs.
type Harvester struct {
	client   scheduleClient
	store    mediaStore
	assets   assetFetcher
	notifier alerts.Notifier
	metrics  *metrics.Manager
	log      zerolog.Logger
}

func New(client scheduleClient, store mediaStore, assets assetFetcher, notifier alerts.Notifier, m *metrics.Manager, logger zerolog.Logger) *Harvester {
	return &Harvester{
		client:   client,
		store:    store,
		assets:   assets,
		notifier: notifier,
		metrics:  m,
		log:      logger.With().Str("component", "harvest").Logger(),
	}
}

// Window returns the schedule window containing now: the start of the
// current ISO week at 00:00 UTC through the end of the week plus one day, so
// slots right at the week boundary are never missed between runs.
func Window(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return start, start.AddDate(0, 0, 8)
}

// Run walks schedule pages for the current window until the provider runs
// out, storing every entry it can. Entry-level failures are logged, alerted
// and skipped; only a page fetch failure aborts the run.
func (h *Harvester) Run(ctx context.Context) (*Report, error) {
	report := &Report{Started: time.Now().UTC()}
	defer func() {
		report.Finished = time.Now().UTC()
		if h.metrics != nil {
			h.metrics.HarvestRunsTotal.WithLabelValues(string(report.Reason)).Inc()
			h.metrics.HarvestDuration.Observe(report.Finished.Sub(report.Started).Seconds())
		}
	}()

	windowStart, windowEnd := Window(report.Started)
	h.log.Info().
		Time("window_start", windowStart).
		Time("window_end", windowEnd).
		Msg("Starting schedule harvest")

	for page := 1; ; page++ {
		schedulePage, err := h.client.FetchSchedulePage(ctx, windowStart, windowEnd, page)
		if err != nil {
			report.Reason = ReasonAborted
			h.notifier.Notify(ctx, err, map[string]string{
				"operation": "harvest",
				"page":      strconv.Itoa(page),
			})
			return report, fmt.Errorf("harvest aborted on page %d: %w", page, err)
		}

		report.Pages++
		if h.metrics != nil {
			h.metrics.HarvestPagesTotal.Inc()
		}

		if len(schedulePage.Entries) == 0 {
			report.Reason = ReasonEmptyPage
			break
		}

		for _, entry := range schedulePage.Entries {
			if err := h.storeEntry(ctx, entry); err != nil {
				report.EntriesFailed++
				if h.metrics != nil {
					h.metrics.HarvestFailuresTotal.Inc()
				}
				h.log.Error().Err(err).Int("schedule_id", entry.ID).Msg("Failed to store schedule entry")
				h.notifier.Notify(ctx, err, map[string]string{
					"operation": "harvest",
					"schedule":  strconv.Itoa(entry.ID),
				})
				continue
			}
			report.EntriesStored++
			if h.metrics != nil {
				h.metrics.HarvestEntriesTotal.Inc()
			}
		}

		if !schedulePage.PageInfo.HasNextPage {
			report.Reason = ReasonNoMorePages
			break
		}
	}

	h.log.Info().
		Int("pages", report.Pages).
		Int("stored", report.EntriesStored).
		Int("failed", report.EntriesFailed).
		Str("reason", string(report.Reason)).
		Msg("Schedule harvest finished")

	return report, nil
}

func (h *Harvester) storeEntry(ctx context.Context, entry anilist.ScheduleEntry) error {
	if entry.Media == nil {
		return fmt.Errorf("schedule entry %d has no media", entry.ID)
	}

	rec := h.mapMedia(ctx, entry.Media)
	if rec.Slug == "" {
		return fmt.Errorf("media %d has no usable title", entry.Media.ID)
	}

	rec.AiringSchedule = &models.Airing{
		AiringAt:        unixTime(entry.AiringAt),
		TimeUntilAiring: entry.TimeUntilAiring,
		Episode:         entry.Episode,
	}

	stored, err := h.store.Upsert(ctx, rec)
	if err != nil {
		return err
	}

	related, err := h.resolveRelations(ctx, entry.Media.Relations.Edges)
	if err != nil {
		return err
	}

	return h.store.SetRelated(ctx, stored.ID, related)
}

// resolveRelations turns relation edges into stored record IDs, creating
// stub records for shows not harvested yet. Stub images are localized like
// full records; edges without a usable title are skipped.
func (h *Harvester) resolveRelations(ctx context.Context, edges []anilist.RelationEdge) ([]int64, error) {
	related := make([]int64, 0, len(edges))
	for _, edge := range edges {
		if edge.Node == nil {
			continue
		}
		stubSlug := slug.Make(edge.Node.Title.Romaji)
		if stubSlug == "" {
			h.log.Debug().Int("media_id", edge.Node.ID).Msg("Skipping relation without title")
			continue
		}

		id, err := h.store.EnsureStub(ctx, &models.MediaRecord{
			Slug:        stubSlug,
			Title:       mapTitle(edge.Node.Title),
			Description: edge.Node.Description,
			Provider: models.Provider{
				Name:    models.ProviderAniList,
				MediaID: edge.Node.ID,
				SiteURL: edge.Node.SiteURL,
			},
			CoverImage: models.CoverImage{
				ExtraLarge: h.assets.Fetch(ctx, edge.Node.CoverImage.ExtraLarge),
				Large:      h.assets.Fetch(ctx, edge.Node.CoverImage.Large),
				Medium:     h.assets.Fetch(ctx, edge.Node.CoverImage.Medium),
				Color:      edge.Node.CoverImage.Color,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("ensure related stub %q: %w", stubSlug, err)
		}
		related = append(related, id)
	}

	return related, nil
}

// mapMedia projects the provider shape onto the stored record, localizing
// image assets along the way.
func (h *Harvester) mapMedia(ctx context.Context, m *anilist.Media) *models.MediaRecord {
	rec := &models.MediaRecord{
		Slug:        slug.Make(m.Title.Romaji),
		Title:       mapTitle(m.Title),
		Description: m.Description,
		Provider: models.Provider{
			Name:    models.ProviderAniList,
			MediaID: m.ID,
			SiteURL: m.SiteURL,
		},
		CoverImage: models.CoverImage{
			ExtraLarge: h.assets.Fetch(ctx, m.CoverImage.ExtraLarge),
			Large:      h.assets.Fetch(ctx, m.CoverImage.Large),
			Medium:     h.assets.Fetch(ctx, m.CoverImage.Medium),
			Color:      m.CoverImage.Color,
		},
		BannerImage:       h.assets.Fetch(ctx, m.BannerImage),
		Genres:            m.Genres,
		Synonyms:          m.Synonyms,
		Status:            m.Status,
		Season:            m.Season,
		SeasonYear:        m.SeasonYear,
		MediaType:         m.Type,
		MediaFormat:       m.Format,
		CountryOfOrigin:   m.CountryOfOrigin,
		Source:            m.Source,
		Duration:          m.Duration,
		IDMal:             m.IDMal,
		Chapters:          m.Chapters,
		Volumes:           m.Volumes,
		AverageScore:      m.AverageScore,
		MeanScore:         m.MeanScore,
		Popularity:        m.Popularity,
		Trending:          m.Trending,
		IsAdult:           m.IsAdult,
		TotalEpisodes:     m.Episodes,
		ProviderUpdatedAt: m.UpdatedAt,
		StartDate:         fuzzyToTime(m.StartDate),
		EndDate:           fuzzyToTime(m.EndDate),
	}

	if m.Trailer != nil {
		rec.Trailer = models.Trailer{
			ID:        m.Trailer.ID,
			Site:      m.Trailer.Site,
			Thumbnail: h.assets.Fetch(ctx, m.Trailer.Thumbnail),
		}
	}

	for _, t := range m.Tags {
		rec.Tags = append(rec.Tags, models.Tag(t))
	}
	for _, r := range m.Rankings {
		rec.Rankings = append(rec.Rankings, models.Ranking(r))
	}
	for _, l := range m.ExternalLinks {
		rec.ExternalLinks = append(rec.ExternalLinks, models.ExternalLink(l))
	}
	for _, s := range m.Studios.Nodes {
		rec.Studios = append(rec.Studios, models.Studio{Name: s.Name})
	}
	for _, tr := range m.Trends.Nodes {
		rec.Trends = append(rec.Trends, models.Trend(tr))
	}
	if m.Stats != nil {
		for _, sd := range m.Stats.ScoreDistribution {
			rec.Stats.ScoreDistribution = append(rec.Stats.ScoreDistribution, models.ScoreDistribution(sd))
		}
		for _, sd := range m.Stats.StatusDistribution {
			rec.Stats.StatusDistribution = append(rec.Stats.StatusDistribution, models.StatusDistribution(sd))
		}
	}

	if m.NextAiringEpisode != nil {
		rec.NextAiring = &models.Airing{
			AiringAt:        unixTime(m.NextAiringEpisode.AiringAt),
			TimeUntilAiring: m.NextAiringEpisode.TimeUntilAiring,
			Episode:         m.NextAiringEpisode.Episode,
		}
	}

	return rec
}

func mapTitle(t anilist.Title) models.Title {
	return models.Title(t)
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// fuzzyToTime converts the provider's partial date, defaulting missing month
// and day components to 1. A fully absent date stays nil.
func fuzzyToTime(d *anilist.FuzzyDate) *time.Time {
	if d.IsZero() {
		return nil
	}

	month := d.Month
	if month == 0 {
		month = 1
	}
	day := d.Day
	if day == 0 {
		day = 1
	}

	t := time.Date(d.Year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}
