// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue is the SQLite-backed job queue driving the torrent search
// and harvest pipelines.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Job kinds.
const (
	KindTorrentDownload = "nyaa_torrent_download"
	KindAiringCollect   = "anilist_airing_collect"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailedRetrying  Status = "failed_retrying"
	StatusFailedExhausted Status = "failed_exhausted"
)

// Backoff strategies between retry attempts.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// ErrRetry is returned by handlers for the soft-empty outcome: the work ran
// cleanly but its result is not available yet. The job is rescheduled
// without raising an alert.
var ErrRetry = errors.New("result not available yet")

// Job is one unit of queued work.
type Job struct {
	ID             int64
	Kind           string
	Payload        json.RawMessage
	DedupKey       string
	Status         Status
	Attempts       int
	MaxAttempts    int
	BackoffType    string
	BackoffSeconds int
	RunAfter       time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Exhausted reports whether the job has used up its attempt budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// TorrentDownloadPayload is the payload for KindTorrentDownload jobs.
// Episode stays a string end to end; zero-padded forms like "05" must
// round-trip unchanged into the dedup key.
type TorrentDownloadPayload struct {
	MediaID int64  `json:"mediaId"`
	Episode string `json:"episode"`
}

// backoffDelay computes the wait before the next attempt. attempts is the
// number already used, so the first retry of an exponential job waits the
// base delay.
func backoffDelay(backoffType string, baseSeconds, attempts int) time.Duration {
	base := time.Duration(baseSeconds) * time.Second
	if backoffType != BackoffExponential {
		return base
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
