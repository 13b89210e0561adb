// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifierPostsRootCause(t *testing.T) {
	var got discordPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL, zerolog.Nop())
	wrapped := fmt.Errorf("handle job: %w", errors.New("connection refused"))
	n.Notify(context.Background(), wrapped, map[string]string{
		"kind": "nyaa_torrent_download",
		"slug": "example-show",
	})

	assert.Equal(t, "**koyomi alert**: connection refused\nkind: nyaa_torrent_download\nslug: example-show", got.Content)
}

func TestDiscordNotifierIgnoresNilError(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL, zerolog.Nop())
	n.Notify(context.Background(), nil, nil)

	assert.False(t, called)
}

func TestDiscordNotifierSwallowsSinkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL, zerolog.Nop())

	// Must not panic or propagate anything.
	n.Notify(context.Background(), errors.New("boom"), nil)
}

func TestNewFallsBackToNop(t *testing.T) {
	n := New("", zerolog.Nop())
	_, ok := n.(NopNotifier)
	assert.True(t, ok)

	n = New("https://discord.example/webhook", zerolog.Nop())
	_, ok = n.(*DiscordNotifier)
	assert.True(t, ok)
}
