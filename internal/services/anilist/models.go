// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package anilist

// SchedulePage is one page of the weekly airing schedule.
type SchedulePage struct {
	PageInfo PageInfo        `json:"pageInfo"`
	Entries  []ScheduleEntry `json:"airingSchedules"`
}

type PageInfo struct {
	Total       int  `json:"total"`
	PerPage     int  `json:"perPage"`
	CurrentPage int  `json:"currentPage"`
	LastPage    int  `json:"lastPage"`
	HasNextPage bool `json:"hasNextPage"`
}

// ScheduleEntry pairs an airing slot with the media airing in it.
type ScheduleEntry struct {
	ID              int    `json:"id"`
	AiringAt        int64  `json:"airingAt"`
	TimeUntilAiring int    `json:"timeUntilAiring"`
	Episode         int    `json:"episode"`
	Media           *Media `json:"media"`
}

// Media is the provider's projection of a single show. Relation nodes reuse
// the same shape with only the identity fields populated.
type Media struct {
	ID              int    `json:"id"`
	IDMal           int    `json:"idMal"`
	SiteURL         string `json:"siteUrl"`
	Title           Title  `json:"title"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	Season          string `json:"season"`
	SeasonYear      int    `json:"seasonYear"`
	Type            string `json:"type"`
	Format          string `json:"format"`
	CountryOfOrigin string `json:"countryOfOrigin"`
	Source          string `json:"source"`
	Duration        int    `json:"duration"`
	Chapters        int    `json:"chapters"`
	Volumes         int    `json:"volumes"`
	AverageScore    int    `json:"averageScore"`
	MeanScore       int    `json:"meanScore"`
	Popularity      int    `json:"popularity"`
	Trending        int    `json:"trending"`
	IsAdult         bool   `json:"isAdult"`
	Episodes        int    `json:"episodes"`
	UpdatedAt       int64  `json:"updatedAt"`

	CoverImage  CoverImage `json:"coverImage"`
	BannerImage string     `json:"bannerImage"`
	Trailer     *Trailer   `json:"trailer"`

	Genres   []string `json:"genres"`
	Synonyms []string `json:"synonyms"`

	Tags          []Tag          `json:"tags"`
	Rankings      []Ranking      `json:"rankings"`
	ExternalLinks []ExternalLink `json:"externalLinks"`
	Studios       StudioNodes    `json:"studios"`
	Trends        TrendNodes     `json:"trends"`
	Stats         *Stats         `json:"stats"`

	StartDate *FuzzyDate `json:"startDate"`
	EndDate   *FuzzyDate `json:"endDate"`

	NextAiringEpisode *AiringEpisode `json:"nextAiringEpisode"`
	AiringSchedule    ScheduleNodes  `json:"airingSchedule"`

	Relations Relations `json:"relations"`
}

type Title struct {
	Romaji        string `json:"romaji"`
	English       string `json:"english"`
	Native        string `json:"native"`
	UserPreferred string `json:"userPreferred"`
}

type CoverImage struct {
	ExtraLarge string `json:"extraLarge"`
	Large      string `json:"large"`
	Medium     string `json:"medium"`
	Color      string `json:"color"`
}

type Trailer struct {
	ID        string `json:"id"`
	Site      string `json:"site"`
	Thumbnail string `json:"thumbnail"`
}

type Tag struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	Rank             int    `json:"rank"`
	IsGeneralSpoiler bool   `json:"isGeneralSpoiler"`
	IsMediaSpoiler   bool   `json:"isMediaSpoiler"`
	IsAdult          bool   `json:"isAdult"`
}

type Ranking struct {
	ID      int    `json:"id"`
	Rank    int    `json:"rank"`
	Type    string `json:"type"`
	Format  string `json:"format"`
	Year    int    `json:"year"`
	Season  string `json:"season"`
	AllTime bool   `json:"allTime"`
	Context string `json:"context"`
}

type ExternalLink struct {
	URL        string `json:"url"`
	Site       string `json:"site"`
	Type       string `json:"type"`
	Color      string `json:"color"`
	IsDisabled bool   `json:"isDisabled"`
}

type StudioNodes struct {
	Nodes []StudioNode `json:"nodes"`
}

type StudioNode struct {
	Name string `json:"name"`
}

type TrendNodes struct {
	Nodes []TrendNode `json:"nodes"`
}

type TrendNode struct {
	Date         int64 `json:"date"`
	Trending     int   `json:"trending"`
	AverageScore int   `json:"averageScore"`
	Popularity   int   `json:"popularity"`
	InProgress   int   `json:"inProgress"`
	Releasing    bool  `json:"releasing"`
	Episode      int   `json:"episode"`
}

type Stats struct {
	ScoreDistribution  []ScoreDistribution  `json:"scoreDistribution"`
	StatusDistribution []StatusDistribution `json:"statusDistribution"`
}

type ScoreDistribution struct {
	Score  int `json:"score"`
	Amount int `json:"amount"`
}

type StatusDistribution struct {
	Status string `json:"status"`
	Amount int    `json:"amount"`
}

// FuzzyDate is the provider's partial calendar date. All components may be
// zero when the date is unknown.
type FuzzyDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// IsZero reports whether no component was provided at all.
func (d *FuzzyDate) IsZero() bool {
	return d == nil || (d.Year == 0 && d.Month == 0 && d.Day == 0)
}

type AiringEpisode struct {
	AiringAt        int64 `json:"airingAt"`
	TimeUntilAiring int   `json:"timeUntilAiring"`
	Episode         int   `json:"episode"`
}

type ScheduleNodes struct {
	Nodes []AiringEpisode `json:"nodes"`
}

type Relations struct {
	Edges []RelationEdge `json:"edges"`
}

type RelationEdge struct {
	RelationType string `json:"relationType"`
	Node         *Media `json:"node"`
}
