// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"time"
)

// ProviderAniList is the provider name recorded on harvested media.
const ProviderAniList = "ANILIST"

// TorrentProviderNyaa tags download candidates discovered on Nyaa.
const TorrentProviderNyaa = "NyaaSi"

// Title holds the multi-locale titles reported by the provider. Identity is
// always derived from the romanized form; the rest is descriptive only.
type Title struct {
	Romaji        string `json:"romaji"`
	English       string `json:"english,omitempty"`
	Native        string `json:"native,omitempty"`
	UserPreferred string `json:"userPreferred,omitempty"`
}

// Provider is the upstream reference for a media record.
type Provider struct {
	Name    string `json:"name"`
	MediaID int    `json:"mediaId"`
	SiteURL string `json:"siteUrl,omitempty"`
}

// CoverImage is the provider's image URL quadruple. After a harvest the URL
// fields hold local asset references (or "" when the fetch failed).
type CoverImage struct {
	ExtraLarge string `json:"extraLarge,omitempty"`
	Large      string `json:"large,omitempty"`
	Medium     string `json:"medium,omitempty"`
	Color      string `json:"color,omitempty"`
}

type Tag struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	Category         string `json:"category,omitempty"`
	Rank             int    `json:"rank"`
	IsGeneralSpoiler bool   `json:"isGeneralSpoiler"`
	IsMediaSpoiler   bool   `json:"isMediaSpoiler"`
	IsAdult          bool   `json:"isAdult"`
}

type Ranking struct {
	ID      int    `json:"id"`
	Rank    int    `json:"rank"`
	Type    string `json:"type"`
	Format  string `json:"format,omitempty"`
	Year    int    `json:"year,omitempty"`
	Season  string `json:"season,omitempty"`
	AllTime bool   `json:"allTime"`
	Context string `json:"context,omitempty"`
}

type ExternalLink struct {
	URL        string `json:"url,omitempty"`
	Site       string `json:"site"`
	Type       string `json:"type,omitempty"`
	Color      string `json:"color,omitempty"`
	IsDisabled bool   `json:"isDisabled"`
}

type Studio struct {
	Name string `json:"name"`
}

type Trend struct {
	Date         int64 `json:"date"`
	Trending     int   `json:"trending"`
	AverageScore int   `json:"averageScore"`
	Popularity   int   `json:"popularity"`
	InProgress   int   `json:"inProgress"`
	Releasing    bool  `json:"releasing"`
	Episode      int   `json:"episode"`
}

type ScoreDistribution struct {
	Score  int `json:"score"`
	Amount int `json:"amount"`
}

type StatusDistribution struct {
	Status string `json:"status"`
	Amount int    `json:"amount"`
}

type Stats struct {
	ScoreDistribution  []ScoreDistribution  `json:"scoreDistribution,omitempty"`
	StatusDistribution []StatusDistribution `json:"statusDistribution,omitempty"`
}

type Trailer struct {
	ID        string `json:"id,omitempty"`
	Site      string `json:"site,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Airing is a single airing-schedule entry.
type Airing struct {
	AiringAt        *time.Time `json:"airingAt"`
	TimeUntilAiring int        `json:"timeUntilAiring"`
	Episode         int        `json:"episode"`
}

// TorrentRef is the embedded reference to a discovered torrent. ID is the
// dedup key inside an episode's download list.
type TorrentRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Torrent  string `json:"torrent,omitempty"`
	Magnet   string `json:"magnet,omitempty"`
	Date     string `json:"date,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type Subtitle struct {
	Language string `json:"language"`
	Path     string `json:"path"`
}

// EpisodeItem is one classified download candidate.
type EpisodeItem struct {
	Quality   string     `json:"quality,omitempty"`
	Codecs    []string   `json:"codecs,omitempty"`
	Subtitles []Subtitle `json:"subtitles"`
	Torrent   TorrentRef `json:"torrent"`
}

// Episode is a numbered release unit with its discovered downloads, in
// discovery order.
type Episode struct {
	Episode   int           `json:"episode"`
	Downloads []EpisodeItem `json:"downloads"`
}

// MediaRecord is the persisted media document, keyed by Slug.
type MediaRecord struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`

	Title       Title    `json:"title"`
	Provider    Provider `json:"provider"`
	Description string   `json:"description,omitempty"`

	CoverImage  CoverImage `json:"coverImage"`
	BannerImage string     `json:"bannerImage,omitempty"`

	Genres        []string       `json:"genres,omitempty"`
	Synonyms      []string       `json:"synonyms,omitempty"`
	Tags          []Tag          `json:"tags,omitempty"`
	Rankings      []Ranking      `json:"rankings,omitempty"`
	ExternalLinks []ExternalLink `json:"externalLinks,omitempty"`
	Studios       []Studio       `json:"studios,omitempty"`
	Trends        []Trend        `json:"trends,omitempty"`
	Stats         Stats          `json:"stats"`

	Status            string  `json:"status,omitempty"`
	Season            string  `json:"season,omitempty"`
	SeasonYear        int     `json:"seasonYear,omitempty"`
	MediaType         string  `json:"type,omitempty"`
	MediaFormat       string  `json:"format,omitempty"`
	CountryOfOrigin   string  `json:"countryOfOrigin,omitempty"`
	Source            string  `json:"source,omitempty"`
	Duration          int     `json:"duration,omitempty"`
	IDMal             int     `json:"idMal,omitempty"`
	Chapters          int     `json:"chapters,omitempty"`
	Volumes           int     `json:"volumes,omitempty"`
	AverageScore      int     `json:"averageScore,omitempty"`
	MeanScore         int     `json:"meanScore,omitempty"`
	Popularity        int     `json:"popularity,omitempty"`
	Trending          int     `json:"trending,omitempty"`
	IsAdult           bool    `json:"isAdult"`
	TotalEpisodes     int     `json:"totalEpisodes,omitempty"`
	ProviderUpdatedAt int64   `json:"providerUpdatedAt,omitempty"`
	Trailer           Trailer `json:"trailer"`

	// Calendar dates, present only when the provider reported at least one
	// non-zero component.
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`

	NextAiring     *Airing `json:"nextAiringEpisode,omitempty"`
	AiringSchedule *Airing `json:"airingSchedule,omitempty"`

	// Episodes is nil until the first torrent search stores downloads;
	// harvests never touch it.
	Episodes []Episode `json:"episodes,omitempty"`

	// Related holds the IDs of thematically linked records, owner-directed
	// only, replaced wholesale on every harvest of the owner.
	Related []int64 `json:"related"`

	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// EpisodeByNumber returns the episode entry for number, or nil.
func (m *MediaRecord) EpisodeByNumber(number int) *Episode {
	for i := range m.Episodes {
		if m.Episodes[i].Episode == number {
			return &m.Episodes[i]
		}
	}
	return nil
}

// HasDownload reports whether the episode already references the torrent id.
func (e *Episode) HasDownload(torrentID string) bool {
	for _, d := range e.Downloads {
		if d.Torrent.ID == torrentID {
			return true
		}
	}
	return false
}
