// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type searchRequester interface {
	Request(ctx context.Context, mediaID int64, episode string) (int64, bool, error)
}

type TorrentsHandler struct {
	search searchRequester
}

func NewTorrentsHandler(search searchRequester) *TorrentsHandler {
	return &TorrentsHandler{search: search}
}

func (h *TorrentsHandler) Routes(r chi.Router) {
	r.Post("/search", h.Search)
}

type searchRequest struct {
	MediaID int64  `json:"mediaId"`
	Episode string `json:"episode"`
}

type searchResponse struct {
	JobID   int64 `json:"jobId"`
	Created bool  `json:"created"`
}

// Search queues a torrent search for one episode. Duplicate requests return
// the already-queued job.
func (h *TorrentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	jobID, created, err := h.search.Request(r.Context(), req.MediaID, req.Episode)
	if err != nil {
		log.Warn().Err(err).Int64("media_id", req.MediaID).Str("episode", req.Episode).Msg("failed to queue search")
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	RespondJSON(w, http.StatusAccepted, searchResponse{JobID: jobID, Created: created})
}
