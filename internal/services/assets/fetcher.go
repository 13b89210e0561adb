// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package assets mirrors provider-hosted images into local storage so
// records never depend on remote URLs staying alive.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/alerts"
	"github.com/koyomi-app/koyomi/internal/buildinfo"
	"github.com/koyomi-app/koyomi/internal/metrics"
)

const (
	fetchTimeout  = 10 * time.Second
	fetchAttempts = 3
	fetchDelay    = 10 * time.Second

	maxAssetSize = 32 << 20
)

// Fetcher downloads image assets into imageDir. A failed download degrades
// the record's image reference, never the operation that requested it.
type Fetcher struct {
	imageDir string
	client   *http.Client
	notifier alerts.Notifier
	metrics  *metrics.Manager
	log      zerolog.Logger
}

func NewFetcher(imageDir string, notifier alerts.Notifier, m *metrics.Manager, logger zerolog.Logger) (*Fetcher, error) {
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	if notifier == nil {
		notifier = alerts.NopNotifier{}
	}

	return &Fetcher{
		imageDir: imageDir,
		client:   &http.Client{Timeout: fetchTimeout},
		notifier: notifier,
		metrics:  m,
		log:      logger.With().Str("component", "assets").Logger(),
	}, nil
}

// Fetch downloads rawURL and returns the stored file's base name. On any
// terminal failure it logs, alerts, counts the miss and returns "" with a nil
// error: asset loss is cosmetic and must not abort a harvest.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) string {
	if rawURL == "" {
		return ""
	}

	name, err := fileName(rawURL)
	if err != nil {
		f.log.Warn().Err(err).Str("url", rawURL).Msg("Skipping malformed asset URL")
		f.count("failure")
		return ""
	}

	dest := filepath.Join(f.imageDir, name)
	if _, err := os.Stat(dest); err == nil {
		f.count("cached")
		return name
	}

	err = retry.Do(
		func() error { return f.download(ctx, rawURL, dest) },
		retry.Attempts(fetchAttempts),
		retry.Delay(fetchDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		f.log.Warn().Err(err).Str("url", rawURL).Msg("Asset fetch failed, keeping record without image")
		f.notifier.Notify(ctx, err, map[string]string{
			"note": "unable to download the image",
			"url":  rawURL,
		})
		f.count("failure")
		return ""
	}

	f.count("success")
	return name
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("build asset request: %w", err))
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("get asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected asset status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(f.imageDir, ".asset-*")
	if err != nil {
		return fmt.Errorf("create asset temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxAssetSize)); err != nil {
		tmp.Close()
		return fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close asset temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("move asset into place: %w", err)
	}

	return nil
}

func (f *Fetcher) count(outcome string) {
	if f.metrics == nil {
		return
	}
	f.metrics.AssetFetchesTotal.WithLabelValues(outcome).Inc()
}

// fileName derives the stored name from the URL path's base segment.
func fileName(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse asset URL: %w", err)
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("asset URL %q has no file name", rawURL)
	}

	return name, nil
}
