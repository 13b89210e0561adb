// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/koyomi-app/koyomi/internal/alerts"
	"github.com/koyomi-app/koyomi/internal/metrics"
)

// HandlerFunc processes one claimed job. Returning nil completes the job,
// ErrRetry reschedules it quietly, any other error reschedules it and raises
// an alert. Either failure path parks the job once its attempts run out.
type HandlerFunc func(ctx context.Context, job *Job) error

// Worker polls the store and dispatches due jobs to registered handlers.
type Worker struct {
	store        *Store
	notifier     alerts.Notifier
	metrics      *metrics.Manager
	pollInterval time.Duration
	handlers     map[string]HandlerFunc
	kinds        []string
	log          zerolog.Logger
}

func NewWorker(store *Store, notifier alerts.Notifier, m *metrics.Manager, pollInterval time.Duration, logger zerolog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		store:        store,
		notifier:     notifier,
		metrics:      m,
		pollInterval: pollInterval,
		handlers:     make(map[string]HandlerFunc),
		log:          logger.With().Str("component", "queue").Logger(),
	}
}

// Register binds a handler to a job kind. Must be called before Run.
func (w *Worker) Register(kind string, handler HandlerFunc) {
	if _, exists := w.handlers[kind]; exists {
		panic(fmt.Sprintf("queue: handler for %q registered twice", kind))
	}
	w.handlers[kind] = handler
	w.kinds = append(w.kinds, kind)
}

// Run polls until ctx is cancelled. Each tick drains every registered kind.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.log.Info().Strs("kinds", w.kinds).Dur("poll_interval", w.pollInterval).Msg("Queue worker started")

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Queue worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for _, kind := range w.kinds {
		for {
			if ctx.Err() != nil {
				return
			}
			processed, err := w.ProcessOne(ctx, kind)
			if err != nil {
				w.log.Error().Err(err).Str("kind", kind).Msg("Job claim failed")
				break
			}
			if !processed {
				break
			}
		}
	}
}

// ProcessOne claims and handles a single due job of the given kind. The
// returned bool reports whether a job was claimed.
func (w *Worker) ProcessOne(ctx context.Context, kind string) (bool, error) {
	job, err := w.store.Claim(ctx, kind)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	handler, ok := w.handlers[kind]
	if !ok {
		// Claimed a kind nothing handles; park it instead of spinning.
		if _, failErr := w.store.Fail(ctx, &Job{ID: job.ID, Attempts: job.MaxAttempts, MaxAttempts: job.MaxAttempts}, "no handler registered"); failErr != nil {
			return true, failErr
		}
		return true, fmt.Errorf("no handler registered for kind %q", kind)
	}

	w.log.Debug().Int64("job_id", job.ID).Str("kind", kind).Int("attempt", job.Attempts).Msg("Processing job")

	handlerErr := handler(ctx, job)

	switch {
	case handlerErr == nil:
		if err := w.store.Complete(ctx, job.ID); err != nil {
			return true, err
		}
		w.count(kind, "completed")
		w.log.Debug().Int64("job_id", job.ID).Str("kind", kind).Msg("Job completed")

	case errors.Is(handlerErr, ErrRetry):
		// Soft-empty: reschedule without alerting.
		status, err := w.store.Fail(ctx, job, handlerErr.Error())
		if err != nil {
			return true, err
		}
		w.count(kind, "soft_empty")
		w.log.Info().Int64("job_id", job.ID).Str("kind", kind).Str("status", string(status)).Msg("Job rescheduled, no results yet")

	default:
		status, err := w.store.Fail(ctx, job, handlerErr.Error())
		if err != nil {
			return true, err
		}
		w.count(kind, "error")
		w.log.Error().Err(handlerErr).Int64("job_id", job.ID).Str("kind", kind).Str("status", string(status)).Msg("Job failed")

		if w.notifier != nil {
			w.notifier.Notify(ctx, handlerErr, map[string]string{
				"kind":    kind,
				"job":     strconv.FormatInt(job.ID, 10),
				"attempt": strconv.Itoa(job.Attempts),
				"status":  string(status),
			})
		}
	}

	return true, nil
}

func (w *Worker) count(kind, outcome string) {
	if w.metrics == nil {
		return
	}
	w.metrics.JobsProcessedTotal.WithLabelValues(kind, outcome).Inc()
}
