// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bus receives download requests from the message broker and feeds
// them into the job queue.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/buildinfo"
)

// TorrentRequest is the inbound message shape. Episode stays a string so
// zero-padded values pass through untouched.
type TorrentRequest struct {
	MediaID int64  `json:"mediaId"`
	Episode string `json:"episode"`
}

type requester interface {
	Request(ctx context.Context, mediaID int64, episode string) (int64, bool, error)
}

// Connect dials the broker with reconnect handling suited for a long-lived
// daemon.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "bus").Logger()

	conn, err := nats.Connect(url,
		nats.Name(buildinfo.UserAgent),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Broker connection lost")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("Broker connection restored")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return conn, nil
}

// Listener subscribes to download requests and enqueues a search job per
// message. Duplicate requests collapse in the queue, so redelivery is safe.
type Listener struct {
	conn      *nats.Conn
	subject   string
	requester requester
	log       zerolog.Logger
}

func NewListener(conn *nats.Conn, subject string, r requester, logger zerolog.Logger) *Listener {
	return &Listener{
		conn:      conn,
		subject:   subject,
		requester: r,
		log:       logger.With().Str("component", "bus").Logger(),
	}
}

// Start subscribes and dispatches until the subscription is drained.
func (l *Listener) Start(ctx context.Context) (*nats.Subscription, error) {
	sub, err := l.conn.Subscribe(l.subject, func(msg *nats.Msg) {
		l.handle(ctx, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", l.subject, err)
	}

	l.log.Info().Str("subject", l.subject).Msg("Listening for download requests")

	return sub, nil
}

// handle processes one raw message. Malformed or unqueueable messages are
// logged and dropped; the broker is not a retry mechanism here, the queue is.
func (l *Listener) handle(ctx context.Context, data []byte) {
	var req TorrentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		l.log.Error().Err(err).Str("payload", string(data)).Msg("Dropping malformed download request")
		return
	}

	jobID, created, err := l.requester.Request(ctx, req.MediaID, req.Episode)
	if err != nil {
		l.log.Error().Err(err).Int64("media_id", req.MediaID).Str("episode", req.Episode).Msg("Failed to queue download request")
		return
	}

	l.log.Info().
		Int64("media_id", req.MediaID).
		Str("episode", req.Episode).
		Int64("job_id", jobID).
		Bool("created", created).
		Msg("Download request queued")
}
