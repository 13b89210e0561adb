// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes Prometheus counters for the harvest and search
// pipelines on a dedicated listener.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Manager owns the registry and the instruments the services record into.
type Manager struct {
	registry *prometheus.Registry

	HarvestRunsTotal     *prometheus.CounterVec
	HarvestPagesTotal    prometheus.Counter
	HarvestEntriesTotal  prometheus.Counter
	HarvestFailuresTotal prometheus.Counter
	HarvestDuration      prometheus.Histogram

	JobsProcessedTotal *prometheus.CounterVec

	ProviderRequestsTotal *prometheus.CounterVec
	AssetFetchesTotal     *prometheus.CounterVec
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		HarvestRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "koyomi_harvest_runs_total",
			Help: "Harvest runs by terminal outcome",
		}, []string{"outcome"}),
		HarvestPagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "koyomi_harvest_pages_total",
			Help: "Schedule pages fetched from the provider",
		}),
		HarvestEntriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "koyomi_harvest_entries_total",
			Help: "Schedule entries stored",
		}),
		HarvestFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "koyomi_harvest_entry_failures_total",
			Help: "Schedule entries skipped due to errors",
		}),
		HarvestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "koyomi_harvest_duration_seconds",
			Help:    "Wall time of a full harvest run",
			Buckets: prometheus.DefBuckets,
		}),
		JobsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "koyomi_jobs_processed_total",
			Help: "Job attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
		ProviderRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "koyomi_provider_requests_total",
			Help: "Outbound provider requests by provider and status",
		}, []string{"provider", "status"}),
		AssetFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "koyomi_asset_fetches_total",
			Help: "Image asset fetches by outcome",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.HarvestRunsTotal,
		m.HarvestPagesTotal,
		m.HarvestEntriesTotal,
		m.HarvestFailuresTotal,
		m.HarvestDuration,
		m.JobsProcessedTotal,
		m.ProviderRequestsTotal,
		m.AssetFetchesTotal,
	)

	return m
}

// Server serves the registry over HTTP, separate from the API listener.
type Server struct {
	manager *Manager
	host    string
	port    int
}

func NewServer(manager *Manager, host string, port int) *Server {
	return &Server{manager: manager, host: host, port: port}
}

func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.manager.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("Starting metrics server")

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return srv.ListenAndServe()
}
