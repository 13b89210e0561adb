// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/koyomi-app/koyomi/internal/queue"
)

type jobStore interface {
	List(ctx context.Context, kind string, limit int) ([]*queue.Job, error)
}

type JobsHandler struct {
	store jobStore
}

func NewJobsHandler(store jobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
}

type jobResponse struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	RunAfter    time.Time `json:"runAfter"`
	LastError   string    `json:"lastError,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RespondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	jobs, err := h.store.List(r.Context(), kind, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list jobs")
		RespondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, jobResponse{
			ID:          j.ID,
			Kind:        j.Kind,
			Status:      string(j.Status),
			Attempts:    j.Attempts,
			MaxAttempts: j.MaxAttempts,
			RunAfter:    j.RunAfter,
			LastError:   j.LastError,
			CreatedAt:   j.CreatedAt,
			UpdatedAt:   j.UpdatedAt,
		})
	}

	RespondJSON(w, http.StatusOK, resp)
}
