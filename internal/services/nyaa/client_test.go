// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package nyaa

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedTemplate = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0" xmlns:nyaa="https://nyaa.si/xmlns/nyaa">
	<channel>
		<title>Nyaa - Home</title>
		%s
	</channel>
</rss>`

func feedItem(id int, title string) string {
	return fmt.Sprintf(`<item>
		<title>%s</title>
		<link>https://nyaa.example/download/%d.torrent</link>
		<guid isPermaLink="true">https://nyaa.example/view/%d</guid>
		<pubDate>Mon, 06 Oct 2025 12:00:00 -0000</pubDate>
		<nyaa:seeders>120</nyaa:seeders>
		<nyaa:leechers>4</nyaa:leechers>
		<nyaa:infoHash>deadbeef</nyaa:infoHash>
		<nyaa:size>1.4 GiB</nyaa:size>
	</item>`, title, id, id)
}

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "rss", q.Get("page"))
		assert.Equal(t, "Example Show", q.Get("q"))
		assert.Equal(t, "1_0", q.Get("c"))
		assert.Equal(t, "id", q.Get("s"))
		assert.Equal(t, "desc", q.Get("o"))

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, feedTemplate,
			feedItem(1, "[Group] Example Show - 05 [1080p][HEVC]")+
				feedItem(2, "[Group] Example Show - 05 [720p]"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5, 5*time.Second, zerolog.Nop())
	results, err := client.Search(context.Background(), "Example Show")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "https://nyaa.example/view/1", results[0].ID)
	assert.Equal(t, "[Group] Example Show - 05 [1080p][HEVC]", results[0].Name)
	assert.Equal(t, "https://nyaa.example/download/1.torrent", results[0].Link)
	assert.Equal(t, "magnet:?xt=urn:btih:deadbeef&dn=%5BGroup%5D+Example+Show+-+05+%5B1080p%5D%5BHEVC%5D", results[0].Magnet)
	assert.Equal(t, 120, results[0].Seeders)
	assert.Equal(t, "1.4 GiB", results[0].Size)
}

func TestSearchAppliesResultLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		items := ""
		for i := 1; i <= 10; i++ {
			items += feedItem(i, fmt.Sprintf("Example Show - %02d", i))
		}
		fmt.Fprintf(w, feedTemplate, items)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5, 5*time.Second, zerolog.Nop())
	results, err := client.Search(context.Background(), "Example Show")
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestSearchEmptyFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, feedTemplate, "")
	}))
	defer server.Close()

	client := NewClient(server.URL, 5, 5*time.Second, zerolog.Nop())
	results, err := client.Search(context.Background(), "Unknown Show")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5, 5*time.Second, zerolog.Nop())
	_, err := client.Search(context.Background(), "Example Show")
	assert.Error(t, err)
}

func TestMagnetLink(t *testing.T) {
	assert.Equal(t,
		"magnet:?xt=urn:btih:deadbeef&dn=Show+-+01",
		magnetLink("deadbeef", "Show - 01"))
	assert.Equal(t, "", magnetLink("", "Show - 01"))
}

func TestToTorrentRef(t *testing.T) {
	r := Result{
		ID:     "https://nyaa.example/view/1",
		Name:   "Example Show - 01",
		Link:   "https://nyaa.example/download/1.torrent",
		Magnet: "magnet:?xt=urn:btih:deadbeef&dn=Example+Show+-+01",
		Date:   "Mon, 06 Oct 2025 12:00:00 -0000",
	}

	ref := r.ToTorrentRef()
	assert.Equal(t, r.ID, ref.ID)
	assert.Equal(t, r.Name, ref.Name)
	assert.Equal(t, r.Link, ref.Torrent)
	assert.Equal(t, r.Magnet, ref.Magnet)
	assert.Equal(t, "NyaaSi", ref.Provider)
}
