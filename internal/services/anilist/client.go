// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package anilist implements the GraphQL client for the airing-schedule
// provider.
package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/buildinfo"
	"github.com/koyomi-app/koyomi/internal/metrics"
)

const (
	requestTimeout = 30 * time.Second
	retryAttempts  = 3
	retryDelay     = 60 * time.Second
)

// scheduleQuery pages through every schedule slot inside the window. Page
// size stays at the provider default; the harvester walks pages until the
// provider reports no more.
const scheduleQuery = `
query ($weekStart: Int, $weekEnd: Int, $page: Int) {
  Page(page: $page) {
    pageInfo {
      total
      perPage
      currentPage
      lastPage
      hasNextPage
    }
    airingSchedules(airingAt_greater: $weekStart, airingAt_lesser: $weekEnd) {
      id
      airingAt
      timeUntilAiring
      episode
      media {
        id
        idMal
        siteUrl
        title {
          romaji
          english
          native
          userPreferred
        }
        description
        status
        season
        seasonYear
        type
        format
        countryOfOrigin
        source
        duration
        chapters
        volumes
        averageScore
        meanScore
        popularity
        trending
        isAdult
        episodes
        updatedAt
        coverImage {
          extraLarge
          large
          medium
          color
        }
        bannerImage
        trailer {
          id
          site
          thumbnail
        }
        genres
        synonyms
        tags {
          id
          name
          description
          category
          rank
          isGeneralSpoiler
          isMediaSpoiler
          isAdult
        }
        rankings {
          id
          rank
          type
          format
          year
          season
          allTime
          context
        }
        externalLinks {
          url
          site
          type
          color
          isDisabled
        }
        studios(isMain: true) {
          nodes {
            name
          }
        }
        trends(sort: DATE_DESC, perPage: 7) {
          nodes {
            date
            trending
            averageScore
            popularity
            inProgress
            releasing
            episode
          }
        }
        stats {
          scoreDistribution {
            score
            amount
          }
          statusDistribution {
            status
            amount
          }
        }
        startDate {
          year
          month
          day
        }
        endDate {
          year
          month
          day
        }
        nextAiringEpisode {
          airingAt
          timeUntilAiring
          episode
        }
        relations {
          edges {
            relationType
            node {
              id
              siteUrl
              title {
                romaji
                english
                native
                userPreferred
              }
              description
              coverImage {
                extraLarge
                large
                medium
                color
              }
            }
          }
        }
      }
    }
  }
}`

// Client talks to the provider's GraphQL endpoint. Transport failures and
// non-2xx responses are retried with a fixed delay; errors reported in the
// GraphQL body are treated as terminal for the page.
type Client struct {
	url     string
	client  *http.Client
	metrics *metrics.Manager
	log     zerolog.Logger
}

func NewClient(url string, m *metrics.Manager, logger zerolog.Logger) *Client {
	return &Client{
		url:     url,
		client:  &http.Client{Timeout: requestTimeout},
		metrics: m,
		log:     logger.With().Str("component", "anilist").Logger(),
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type scheduleResponse struct {
	Data struct {
		Page SchedulePage `json:"Page"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// FetchSchedulePage fetches one page of schedule slots whose airing time
// falls inside [windowStart, windowEnd].
func (c *Client) FetchSchedulePage(ctx context.Context, windowStart, windowEnd time.Time, page int) (*SchedulePage, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: scheduleQuery,
		Variables: map[string]any{
			"weekStart": windowStart.Unix(),
			"weekEnd":   windowEnd.Unix(),
			"page":      page,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode schedule query: %w", err)
	}

	var result *SchedulePage
	err = retry.Do(
		func() error {
			fetched, fetchErr := c.postSchedule(ctx, body)
			if fetchErr != nil {
				c.log.Warn().Err(fetchErr).Int("page", page).Msg("Schedule page fetch failed")
				return fetchErr
			}
			result = fetched
			return nil
		},
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule page %d: %w", page, err)
	}

	return result, nil
}

func (c *Client) postSchedule(ctx context.Context, body []byte) (*SchedulePage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build schedule request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		c.countRequest("error")
		return nil, fmt.Errorf("post schedule query: %w", err)
	}
	defer resp.Body.Close()

	c.countRequest(strconv.Itoa(resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read schedule response: %w", err)
	}

	var decoded scheduleResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decode schedule response: %w", err)
		}
		if len(decoded.Errors) > 0 {
			return nil, retry.Unrecoverable(fmt.Errorf("provider rejected query: %s", decoded.Errors[0].Message))
		}
		return &decoded.Data.Page, nil
	}

	// The provider reports query errors with a 4xx status and an error
	// body; those never heal on retry.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		if jsonErr := json.Unmarshal(raw, &decoded); jsonErr == nil && len(decoded.Errors) > 0 {
			return nil, retry.Unrecoverable(fmt.Errorf("provider rejected query: %s", decoded.Errors[0].Message))
		}
		return nil, retry.Unrecoverable(fmt.Errorf("unexpected provider status %d", resp.StatusCode))
	}

	return nil, fmt.Errorf("unexpected provider status %d", resp.StatusCode)
}

func (c *Client) countRequest(status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ProviderRequestsTotal.WithLabelValues("anilist", status).Inc()
}
