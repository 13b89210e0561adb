// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/koyomi-app/koyomi/internal/models"
)

type mediaStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.MediaRecord, error)
}

type MediaHandler struct {
	store mediaStore
}

func NewMediaHandler(store mediaStore) *MediaHandler {
	return &MediaHandler{store: store}
}

func (h *MediaHandler) Routes(r chi.Router) {
	r.Get("/{slug}", h.GetBySlug)
}

func (h *MediaHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	record, err := h.store.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, models.ErrMediaNotFound) {
			RespondError(w, http.StatusNotFound, "Media not found")
			return
		}
		log.Error().Err(err).Str("slug", slug).Msg("failed to load media")
		RespondError(w, http.StatusInternalServerError, "Failed to load media")
		return
	}

	RespondJSON(w, http.StatusOK, record)
}
