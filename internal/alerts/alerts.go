// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package alerts delivers operational failure notices to an external sink.
// Delivery is best-effort: a failing sink never fails the operation that
// raised the alert.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/buildinfo"
	"github.com/koyomi-app/koyomi/internal/errs"
)

// Notifier receives failure notices. Fields carry context such as the job
// kind, media slug or page number.
type Notifier interface {
	Notify(ctx context.Context, err error, fields map[string]string)
}

// NopNotifier discards all notices. Used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, error, map[string]string) {}

// DiscordNotifier posts notices to a Discord-compatible webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	log        zerolog.Logger
}

func NewDiscordNotifier(webhookURL string, logger zerolog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        logger.With().Str("component", "alerts").Logger(),
	}
}

// New returns a Discord notifier when webhookURL is set, otherwise a nop.
func New(webhookURL string, logger zerolog.Logger) Notifier {
	if webhookURL == "" {
		return NopNotifier{}
	}
	return NewDiscordNotifier(webhookURL, logger)
}

type discordPayload struct {
	Content string `json:"content"`
}

// Notify posts the root cause of err plus the given fields. Errors from the
// sink itself are logged and swallowed.
func (n *DiscordNotifier) Notify(ctx context.Context, err error, fields map[string]string) {
	if err == nil {
		return
	}

	body, marshalErr := json.Marshal(discordPayload{Content: formatNotice(err, fields)})
	if marshalErr != nil {
		n.log.Error().Err(marshalErr).Msg("Failed to encode alert payload")
		return
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if reqErr != nil {
		n.log.Error().Err(reqErr).Msg("Failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, postErr := n.client.Do(req)
	if postErr != nil {
		n.log.Error().Err(postErr).Msg("Failed to deliver alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.log.Error().Int("status", resp.StatusCode).Msg("Alert sink rejected notice")
	}
}

func formatNotice(err error, fields map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**koyomi alert**: %s", errs.RootCause(err).Error())

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, fields[k])
	}

	return b.String()
}
