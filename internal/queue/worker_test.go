// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	errs   []error
	fields []map[string]string
}

func (n *recordingNotifier) Notify(_ context.Context, err error, fields map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
	n.fields = append(n.fields, fields)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

func TestProcessOneCompletesJob(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	worker := NewWorker(store, notifier, nil, time.Second, zerolog.Nop())

	var handled *Job
	worker.Register(KindTorrentDownload, func(_ context.Context, job *Job) error {
		handled = job
		return nil
	})

	id, _, err := store.Enqueue(ctx, EnqueueParams{Kind: KindTorrentDownload})
	require.NoError(t, err)

	processed, err := worker.ProcessOne(ctx, KindTorrentDownload)
	require.NoError(t, err)
	assert.True(t, processed)
	require.NotNil(t, handled)
	assert.Equal(t, id, handled.ID)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Zero(t, notifier.count())
}

func TestProcessOneSoftEmptyReschedulesWithoutAlert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	worker := NewWorker(store, notifier, nil, time.Second, zerolog.Nop())
	worker.Register(KindTorrentDownload, func(context.Context, *Job) error {
		return ErrRetry
	})

	id, _, err := store.Enqueue(ctx, EnqueueParams{Kind: KindTorrentDownload})
	require.NoError(t, err)

	processed, err := worker.ProcessOne(ctx, KindTorrentDownload)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedRetrying, stored.Status)
	assert.Zero(t, notifier.count())
}

func TestProcessOneHardErrorAlerts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	notifier := &recordingNotifier{}
	worker := NewWorker(store, notifier, nil, time.Second, zerolog.Nop())

	boom := errors.New("index unreachable")
	worker.Register(KindTorrentDownload, func(context.Context, *Job) error {
		return boom
	})

	id, _, err := store.Enqueue(ctx, EnqueueParams{Kind: KindTorrentDownload})
	require.NoError(t, err)

	processed, err := worker.ProcessOne(ctx, KindTorrentDownload)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedRetrying, stored.Status)
	assert.Equal(t, "index unreachable", stored.LastError)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, boom, notifier.errs[0])
	assert.Equal(t, KindTorrentDownload, notifier.fields[0]["kind"])
}

func TestProcessOneExhaustsAfterMaxAttempts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	worker := NewWorker(store, &recordingNotifier{}, nil, time.Second, zerolog.Nop())
	worker.Register(KindTorrentDownload, func(context.Context, *Job) error {
		return ErrRetry
	})

	id, _, err := store.Enqueue(ctx, EnqueueParams{
		Kind:           KindTorrentDownload,
		MaxAttempts:    1,
		BackoffSeconds: 1,
	})
	require.NoError(t, err)

	processed, err := worker.ProcessOne(ctx, KindTorrentDownload)
	require.NoError(t, err)
	assert.True(t, processed)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailedExhausted, stored.Status)

	// Parked jobs are never claimable again.
	processed, err = worker.ProcessOne(ctx, KindTorrentDownload)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessOneNothingDue(t *testing.T) {
	store := setupTestStore(t)

	worker := NewWorker(store, nil, nil, time.Second, zerolog.Nop())
	worker.Register(KindTorrentDownload, func(context.Context, *Job) error { return nil })

	processed, err := worker.ProcessOne(context.Background(), KindTorrentDownload)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRegisterTwicePanics(t *testing.T) {
	worker := NewWorker(setupTestStore(t), nil, nil, time.Second, zerolog.Nop())
	worker.Register(KindTorrentDownload, func(context.Context, *Job) error { return nil })

	assert.Panics(t, func() {
		worker.Register(KindTorrentDownload, func(context.Context, *Job) error { return nil })
	})
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := setupTestStore(t)
	worker := NewWorker(store, nil, nil, 10*time.Millisecond, zerolog.Nop())
	worker.Register(KindTorrentDownload, func(context.Context, *Job) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
