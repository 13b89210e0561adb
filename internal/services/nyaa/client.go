// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nyaa searches the torrent index's RSS feed and classifies release
// names by episode, quality and codec.
package nyaa

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/buildinfo"
	"github.com/koyomi-app/koyomi/internal/models"
)

const animeCategory = "1_0"

// Result is one release from the index feed.
type Result struct {
	ID       string
	Name     string
	Link     string
	Magnet   string
	Date     string
	Seeders  int
	Leechers int
	Size     string
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title    string `xml:"title"`
	Link     string `xml:"link"`
	GUID     string `xml:"guid"`
	PubDate  string `xml:"pubDate"`
	Seeders  int    `xml:"https://nyaa.si/xmlns/nyaa seeders"`
	Leechers int    `xml:"https://nyaa.si/xmlns/nyaa leechers"`
	InfoHash string `xml:"https://nyaa.si/xmlns/nyaa infoHash"`
	Size     string `xml:"https://nyaa.si/xmlns/nyaa size"`
}

// Client queries the index's RSS endpoint.
type Client struct {
	baseURL     string
	resultLimit int
	client      *http.Client
	log         zerolog.Logger
}

func NewClient(baseURL string, resultLimit int, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		resultLimit: resultLimit,
		client:      &http.Client{Timeout: timeout},
		log:         logger.With().Str("component", "nyaa").Logger(),
	}
}

// Search queries the anime category for term, newest first, and returns at
// most the configured number of results. An empty feed is a valid outcome,
// not an error.
func (c *Client) Search(ctx context.Context, term string) ([]Result, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse index URL: %w", err)
	}

	query := endpoint.Query()
	query.Set("page", "rss")
	query.Set("q", term)
	query.Set("c", animeCategory)
	query.Set("s", "id")
	query.Set("o", "desc")
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected index status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	results := make([]Result, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		if c.resultLimit > 0 && len(results) >= c.resultLimit {
			break
		}
		results = append(results, Result{
			ID:       item.GUID,
			Name:     item.Title,
			Link:     item.Link,
			Magnet:   magnetLink(item.InfoHash, item.Title),
			Date:     item.PubDate,
			Seeders:  item.Seeders,
			Leechers: item.Leechers,
			Size:     item.Size,
		})
	}

	c.log.Debug().Str("term", term).Int("results", len(results)).Msg("Index search completed")

	return results, nil
}

// magnetLink builds a magnet URI from the feed's info hash; the feed itself
// carries no magnet element.
func magnetLink(infoHash, name string) string {
	if infoHash == "" {
		return ""
	}
	return fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s", infoHash, url.QueryEscape(name))
}

// ToTorrentRef converts a feed result into the embedded torrent reference.
func (r Result) ToTorrentRef() models.TorrentRef {
	return models.TorrentRef{
		ID:       r.ID,
		Name:     r.Name,
		Torrent:  r.Link,
		Magnet:   r.Magnet,
		Date:     r.Date,
		Provider: models.TorrentProviderNyaa,
	}
}
