// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/koyomi-app/koyomi/internal/dbinterface"
)

var (
	// ErrMediaNotFound is returned when the referenced record does not exist.
	// The store never retries on behalf of the caller.
	ErrMediaNotFound = errors.New("media not found")

	// ErrNoResults is the soft-empty outcome: nothing was wrong, but no
	// download candidates were available for the requested episode.
	ErrNoResults = errors.New("no download candidates for episode")
)

const dateLayout = "2006-01-02"

// mediaColumns is the scan order shared by every SELECT in this store.
const mediaColumns = `
	id, slug, title_json, provider_json, description, cover_image_json,
	banner_image, genres_json, synonyms_json, tags_json, rankings_json,
	external_links_json, studios_json, trends_json, stats_json, status,
	season, season_year, media_type, media_format, country_of_origin, source,
	duration, id_mal, chapters, volumes, average_score, mean_score,
	popularity, trending, is_adult, total_episodes, provider_updated_at,
	trailer_json, start_date, end_date, next_airing_json,
	airing_schedule_json, episodes_json, related_json, created_at, modified_at
`

// MediaStore persists media records keyed by slug.
type MediaStore struct {
	db dbinterface.TxBeginner
}

func NewMediaStore(db dbinterface.TxBeginner) *MediaStore {
	return &MediaStore{db: db}
}

// Upsert writes the harvested projection for rec.Slug in a single atomic
// statement. On conflict every metadata column is replaced with the new
// projection, while episodes_json and related_json are left untouched: the
// projection never carries download state, and the related set is reconciled
// separately after stub resolution. Returns the stored record with its ID.
func (s *MediaStore) Upsert(ctx context.Context, rec *MediaRecord) (*MediaRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	if rec.Slug == "" {
		return nil, fmt.Errorf("record slug cannot be empty")
	}

	cols, err := encodeMediaColumns(rec)
	if err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO media (
			slug, title_json, provider_json, description, cover_image_json,
			banner_image, genres_json, synonyms_json, tags_json, rankings_json,
			external_links_json, studios_json, trends_json, stats_json, status,
			season, season_year, media_type, media_format, country_of_origin,
			source, duration, id_mal, chapters, volumes, average_score,
			mean_score, popularity, trending, is_adult, total_episodes,
			provider_updated_at, trailer_json, start_date, end_date,
			next_airing_json, airing_schedule_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title_json = excluded.title_json,
			provider_json = excluded.provider_json,
			description = excluded.description,
			cover_image_json = excluded.cover_image_json,
			banner_image = excluded.banner_image,
			genres_json = excluded.genres_json,
			synonyms_json = excluded.synonyms_json,
			tags_json = excluded.tags_json,
			rankings_json = excluded.rankings_json,
			external_links_json = excluded.external_links_json,
			studios_json = excluded.studios_json,
			trends_json = excluded.trends_json,
			stats_json = excluded.stats_json,
			status = excluded.status,
			season = excluded.season,
			season_year = excluded.season_year,
			media_type = excluded.media_type,
			media_format = excluded.media_format,
			country_of_origin = excluded.country_of_origin,
			source = excluded.source,
			duration = excluded.duration,
			id_mal = excluded.id_mal,
			chapters = excluded.chapters,
			volumes = excluded.volumes,
			average_score = excluded.average_score,
			mean_score = excluded.mean_score,
			popularity = excluded.popularity,
			trending = excluded.trending,
			is_adult = excluded.is_adult,
			total_episodes = excluded.total_episodes,
			provider_updated_at = excluded.provider_updated_at,
			trailer_json = excluded.trailer_json,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			next_airing_json = excluded.next_airing_json,
			airing_schedule_json = excluded.airing_schedule_json,
			modified_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, cols...); err != nil {
		return nil, fmt.Errorf("upsert media %q: %w", rec.Slug, err)
	}

	return s.GetBySlug(ctx, rec.Slug)
}

// EnsureStub creates a minimally populated record for a related-media
// reference if none exists yet, and returns the record's ID either way.
// Existing records are never modified through this path.
func (s *MediaStore) EnsureStub(ctx context.Context, stub *MediaRecord) (int64, error) {
	if stub == nil || stub.Slug == "" {
		return 0, fmt.Errorf("stub slug cannot be empty")
	}

	titleJSON, err := json.Marshal(stub.Title)
	if err != nil {
		return 0, fmt.Errorf("encode stub title: %w", err)
	}
	providerJSON, err := json.Marshal(stub.Provider)
	if err != nil {
		return 0, fmt.Errorf("encode stub provider: %w", err)
	}
	coverJSON, err := json.Marshal(stub.CoverImage)
	if err != nil {
		return 0, fmt.Errorf("encode stub cover image: %w", err)
	}

	const insert = `
		INSERT INTO media (slug, title_json, provider_json, cover_image_json, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, stub.Slug, string(titleJSON), string(providerJSON), string(coverJSON), stub.Description); err != nil {
		return 0, fmt.Errorf("insert media stub %q: %w", stub.Slug, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM media WHERE slug = ?`, stub.Slug).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve media stub %q: %w", stub.Slug, err)
	}

	return id, nil
}

// SetRelated replaces the record's related list with exactly the given IDs.
// Relations dropped upstream disappear here; this is a full replace.
func (s *MediaStore) SetRelated(ctx context.Context, id int64, related []int64) error {
	if related == nil {
		related = []int64{}
	}
	relatedJSON, err := json.Marshal(related)
	if err != nil {
		return fmt.Errorf("encode related ids: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET related_json = ?, modified_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(relatedJSON), id)
	if err != nil {
		return fmt.Errorf("set related for media %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set related rows affected: %w", err)
	}
	if affected == 0 {
		return ErrMediaNotFound
	}
	return nil
}

// GetBySlug loads a record by its slug.
func (s *MediaStore) GetBySlug(ctx context.Context, slug string) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE slug = ?`, slug)
	rec, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaNotFound
		}
		return nil, fmt.Errorf("get media by slug %q: %w", slug, err)
	}
	return rec, nil
}

// GetByID loads a record by its ID.
func (s *MediaStore) GetByID(ctx context.Context, id int64) (*MediaRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE id = ?`, id)
	rec, err := scanMedia(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMediaNotFound
		}
		return nil, fmt.Errorf("get media by id %d: %w", id, err)
	}
	return rec, nil
}

// MergeDownloads merges classified download candidates into the episode's
// download list, deduplicating by torrent ID. Returns ErrMediaNotFound when
// the record is absent and ErrNoResults when items is empty; an empty episode
// is never created. The read-modify-write runs inside one transaction so a
// concurrent harvest of the same record cannot lose either write.
func (s *MediaStore) MergeDownloads(ctx context.Context, mediaID int64, episodeNumber int, items []EpisodeItem) error {
	if len(items) == 0 {
		return ErrNoResults
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge downloads: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var episodesJSON sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT episodes_json FROM media WHERE id = ?`, mediaID).Scan(&episodesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMediaNotFound
		}
		return fmt.Errorf("load episodes for media %d: %w", mediaID, err)
	}

	var episodes []Episode
	if episodesJSON.Valid && episodesJSON.String != "" {
		if err := json.Unmarshal([]byte(episodesJSON.String), &episodes); err != nil {
			return fmt.Errorf("decode episodes for media %d: %w", mediaID, err)
		}
	}

	if existing := episodeByNumber(episodes, episodeNumber); existing != nil {
		for _, item := range items {
			if existing.HasDownload(item.Torrent.ID) {
				continue
			}
			existing.Downloads = append(existing.Downloads, item)
		}
	} else {
		episodes = append(episodes, Episode{Episode: episodeNumber, Downloads: items})
	}

	encoded, err := json.Marshal(episodes)
	if err != nil {
		return fmt.Errorf("encode episodes for media %d: %w", mediaID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE media SET episodes_json = ?, modified_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(encoded), mediaID); err != nil {
		return fmt.Errorf("store episodes for media %d: %w", mediaID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge downloads: %w", err)
	}

	return nil
}

func episodeByNumber(episodes []Episode, number int) *Episode {
	for i := range episodes {
		if episodes[i].Episode == number {
			return &episodes[i]
		}
	}
	return nil
}

func encodeMediaColumns(rec *MediaRecord) ([]any, error) {
	titleJSON, err := json.Marshal(rec.Title)
	if err != nil {
		return nil, fmt.Errorf("encode title: %w", err)
	}
	providerJSON, err := json.Marshal(rec.Provider)
	if err != nil {
		return nil, fmt.Errorf("encode provider: %w", err)
	}
	coverJSON, err := json.Marshal(rec.CoverImage)
	if err != nil {
		return nil, fmt.Errorf("encode cover image: %w", err)
	}
	genresJSON, err := encodeSlice(rec.Genres)
	if err != nil {
		return nil, fmt.Errorf("encode genres: %w", err)
	}
	synonymsJSON, err := encodeSlice(rec.Synonyms)
	if err != nil {
		return nil, fmt.Errorf("encode synonyms: %w", err)
	}
	tagsJSON, err := encodeSlice(rec.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	rankingsJSON, err := encodeSlice(rec.Rankings)
	if err != nil {
		return nil, fmt.Errorf("encode rankings: %w", err)
	}
	linksJSON, err := encodeSlice(rec.ExternalLinks)
	if err != nil {
		return nil, fmt.Errorf("encode external links: %w", err)
	}
	studiosJSON, err := encodeSlice(rec.Studios)
	if err != nil {
		return nil, fmt.Errorf("encode studios: %w", err)
	}
	trendsJSON, err := encodeSlice(rec.Trends)
	if err != nil {
		return nil, fmt.Errorf("encode trends: %w", err)
	}
	statsJSON, err := json.Marshal(rec.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	trailerJSON, err := json.Marshal(rec.Trailer)
	if err != nil {
		return nil, fmt.Errorf("encode trailer: %w", err)
	}

	nextAiringJSON, err := encodeAiring(rec.NextAiring)
	if err != nil {
		return nil, fmt.Errorf("encode next airing: %w", err)
	}
	airingScheduleJSON, err := encodeAiring(rec.AiringSchedule)
	if err != nil {
		return nil, fmt.Errorf("encode airing schedule: %w", err)
	}

	return []any{
		rec.Slug,
		string(titleJSON),
		string(providerJSON),
		rec.Description,
		string(coverJSON),
		rec.BannerImage,
		genresJSON,
		synonymsJSON,
		tagsJSON,
		rankingsJSON,
		linksJSON,
		studiosJSON,
		trendsJSON,
		string(statsJSON),
		rec.Status,
		rec.Season,
		rec.SeasonYear,
		rec.MediaType,
		rec.MediaFormat,
		rec.CountryOfOrigin,
		rec.Source,
		rec.Duration,
		rec.IDMal,
		rec.Chapters,
		rec.Volumes,
		rec.AverageScore,
		rec.MeanScore,
		rec.Popularity,
		rec.Trending,
		rec.IsAdult,
		rec.TotalEpisodes,
		rec.ProviderUpdatedAt,
		string(trailerJSON),
		encodeDate(rec.StartDate),
		encodeDate(rec.EndDate),
		nextAiringJSON,
		airingScheduleJSON,
	}, nil
}

func encodeSlice[T any](values []T) (string, error) {
	if values == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func encodeDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func encodeAiring(a *Airing) (any, error) {
	if a == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (*MediaRecord, error) {
	var (
		rec                MediaRecord
		titleJSON          string
		providerJSON       string
		coverJSON          string
		genresJSON         string
		synonymsJSON       string
		tagsJSON           string
		rankingsJSON       string
		linksJSON          string
		studiosJSON        string
		trendsJSON         string
		statsJSON          string
		trailerJSON        string
		startDate          sql.NullString
		endDate            sql.NullString
		nextAiringJSON     sql.NullString
		airingScheduleJSON sql.NullString
		episodesJSON       sql.NullString
		relatedJSON        string
	)

	err := row.Scan(
		&rec.ID,
		&rec.Slug,
		&titleJSON,
		&providerJSON,
		&rec.Description,
		&coverJSON,
		&rec.BannerImage,
		&genresJSON,
		&synonymsJSON,
		&tagsJSON,
		&rankingsJSON,
		&linksJSON,
		&studiosJSON,
		&trendsJSON,
		&statsJSON,
		&rec.Status,
		&rec.Season,
		&rec.SeasonYear,
		&rec.MediaType,
		&rec.MediaFormat,
		&rec.CountryOfOrigin,
		&rec.Source,
		&rec.Duration,
		&rec.IDMal,
		&rec.Chapters,
		&rec.Volumes,
		&rec.AverageScore,
		&rec.MeanScore,
		&rec.Popularity,
		&rec.Trending,
		&rec.IsAdult,
		&rec.TotalEpisodes,
		&rec.ProviderUpdatedAt,
		&trailerJSON,
		&startDate,
		&endDate,
		&nextAiringJSON,
		&airingScheduleJSON,
		&episodesJSON,
		&relatedJSON,
		&rec.CreatedAt,
		&rec.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		raw  string
		dest any
	}{
		{titleJSON, &rec.Title},
		{providerJSON, &rec.Provider},
		{coverJSON, &rec.CoverImage},
		{genresJSON, &rec.Genres},
		{synonymsJSON, &rec.Synonyms},
		{tagsJSON, &rec.Tags},
		{rankingsJSON, &rec.Rankings},
		{linksJSON, &rec.ExternalLinks},
		{studiosJSON, &rec.Studios},
		{trendsJSON, &rec.Trends},
		{statsJSON, &rec.Stats},
		{trailerJSON, &rec.Trailer},
		{relatedJSON, &rec.Related},
	} {
		if field.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return nil, fmt.Errorf("decode media column: %w", err)
		}
	}

	if startDate.Valid && startDate.String != "" {
		t, err := time.Parse(dateLayout, startDate.String)
		if err != nil {
			return nil, fmt.Errorf("decode start date: %w", err)
		}
		rec.StartDate = &t
	}
	if endDate.Valid && endDate.String != "" {
		t, err := time.Parse(dateLayout, endDate.String)
		if err != nil {
			return nil, fmt.Errorf("decode end date: %w", err)
		}
		rec.EndDate = &t
	}
	if nextAiringJSON.Valid && nextAiringJSON.String != "" {
		var airing Airing
		if err := json.Unmarshal([]byte(nextAiringJSON.String), &airing); err != nil {
			return nil, fmt.Errorf("decode next airing: %w", err)
		}
		rec.NextAiring = &airing
	}
	if airingScheduleJSON.Valid && airingScheduleJSON.String != "" {
		var airing Airing
		if err := json.Unmarshal([]byte(airingScheduleJSON.String), &airing); err != nil {
			return nil, fmt.Errorf("decode airing schedule: %w", err)
		}
		rec.AiringSchedule = &airing
	}
	if episodesJSON.Valid && episodesJSON.String != "" {
		if err := json.Unmarshal([]byte(episodesJSON.String), &rec.Episodes); err != nil {
			return nil, fmt.Errorf("decode episodes: %w", err)
		}
	}

	return &rec, nil
}
