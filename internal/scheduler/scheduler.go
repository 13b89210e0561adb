// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler enqueues the periodic harvest job on a cron spec.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/queue"
)

// harvestDedupKey keeps at most one airing-collect job active at a time; a
// tick fired while a harvest is queued or running collapses onto it.
const harvestDedupKey = "harvest:airing"

type jobQueue interface {
	Enqueue(ctx context.Context, p queue.EnqueueParams) (int64, bool, error)
}

// Scheduler enqueues a harvest job per cron trigger. Harvest runs go through
// the queue so they share its lifecycle and show up in job listings; the
// dedup key stands in for an overlap guard.
type Scheduler struct {
	queue jobQueue
	spec  string
	cron  *cron.Cron
	log   zerolog.Logger
}

func New(q jobQueue, spec string, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		queue: q,
		spec:  spec,
		cron:  cron.New(),
		log:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the cron entry and enqueues an immediate catch-up job, so
// a restart never waits a full interval for fresh schedule data. The catch-up
// runs in the background; Start does not block on it.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("register harvest cron %q: %w", s.spec, err)
	}

	go s.runOnce(ctx)

	s.cron.Start()
	s.log.Info().Str("spec", s.spec).Msg("Harvest scheduler started")

	return nil
}

// Stop halts the cron loop and returns a context that is done once any
// in-flight cron-dispatched trigger has returned.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("Harvest scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	// A harvest either completes or fails for the whole window; rerunning a
	// failed window is the next tick's business, not a retry's.
	jobID, created, err := s.queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:        queue.KindAiringCollect,
		DedupKey:    harvestDedupKey,
		MaxAttempts: 1,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to enqueue harvest job")
		return
	}

	if !created {
		s.log.Warn().Int64("job_id", jobID).Msg("Skipping harvest tick, previous job still active")
		return
	}

	s.log.Info().Int64("job_id", jobID).Msg("Harvest job enqueued")
}
