// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle. SQLite is the single shared mutable resource in
// koyomi; slug upserts and job claims are issued as single statements so its
// serialization is the only write coordination needed.
type DB struct {
	*sql.DB
}

func New(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath)

	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn between the harvest and search workers.
	handle.SetMaxOpenConns(1)
	handle.SetConnMaxIdleTime(5 * time.Minute)

	db := &DB{DB: handle}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.migrate(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log.Debug().Str("path", dbPath).Msg("Database initialized")

	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}

		log.Info().Int("version", i+1).Msg("Applied database migration")
	}

	return nil
}

var migrations = []string{
	`
	CREATE TABLE media (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		slug              TEXT NOT NULL UNIQUE,
		title_json        TEXT NOT NULL DEFAULT '{}',
		provider_json     TEXT NOT NULL DEFAULT '{}',
		description       TEXT NOT NULL DEFAULT '',
		cover_image_json  TEXT NOT NULL DEFAULT '{}',
		banner_image      TEXT NOT NULL DEFAULT '',
		genres_json       TEXT NOT NULL DEFAULT '[]',
		synonyms_json     TEXT NOT NULL DEFAULT '[]',
		tags_json         TEXT NOT NULL DEFAULT '[]',
		rankings_json     TEXT NOT NULL DEFAULT '[]',
		external_links_json TEXT NOT NULL DEFAULT '[]',
		studios_json      TEXT NOT NULL DEFAULT '[]',
		trends_json       TEXT NOT NULL DEFAULT '[]',
		stats_json        TEXT NOT NULL DEFAULT '{}',
		status            TEXT NOT NULL DEFAULT '',
		season            TEXT NOT NULL DEFAULT '',
		season_year       INTEGER NOT NULL DEFAULT 0,
		media_type        TEXT NOT NULL DEFAULT '',
		media_format      TEXT NOT NULL DEFAULT '',
		country_of_origin TEXT NOT NULL DEFAULT '',
		source            TEXT NOT NULL DEFAULT '',
		duration          INTEGER NOT NULL DEFAULT 0,
		id_mal            INTEGER NOT NULL DEFAULT 0,
		chapters          INTEGER NOT NULL DEFAULT 0,
		volumes           INTEGER NOT NULL DEFAULT 0,
		average_score     INTEGER NOT NULL DEFAULT 0,
		mean_score        INTEGER NOT NULL DEFAULT 0,
		popularity        INTEGER NOT NULL DEFAULT 0,
		trending          INTEGER NOT NULL DEFAULT 0,
		is_adult          INTEGER NOT NULL DEFAULT 0,
		total_episodes    INTEGER NOT NULL DEFAULT 0,
		provider_updated_at INTEGER NOT NULL DEFAULT 0,
		trailer_json      TEXT NOT NULL DEFAULT '{}',
		start_date        TEXT,
		end_date          TEXT,
		next_airing_json  TEXT,
		airing_schedule_json TEXT,
		episodes_json     TEXT,
		related_json      TEXT NOT NULL DEFAULT '[]',
		created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		modified_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX idx_media_provider_updated_at ON media(provider_updated_at);

	CREATE TABLE jobs (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		kind            TEXT NOT NULL,
		payload_json    TEXT NOT NULL DEFAULT '{}',
		dedup_key       TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'queued',
		attempts        INTEGER NOT NULL DEFAULT 0,
		max_attempts    INTEGER NOT NULL DEFAULT 3,
		backoff_type    TEXT NOT NULL DEFAULT 'fixed',
		backoff_seconds INTEGER NOT NULL DEFAULT 600,
		run_after       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX idx_jobs_kind_status_run_after ON jobs(kind, status, run_after);
	CREATE INDEX idx_jobs_dedup_key ON jobs(dedup_key) WHERE dedup_key != '';
	`,
}
