// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the immutable runtime configuration. It is unmarshaled once at
// startup by the config package and passed by reference into the harvester,
// stores and scheduler constructors.
type Config struct {
	Version string

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	DataDir string `mapstructure:"dataDir"`

	PprofEnabled   bool   `mapstructure:"pprofEnabled"`
	MetricsEnabled bool   `mapstructure:"metricsEnabled"`
	MetricsHost    string `mapstructure:"metricsHost"`
	MetricsPort    int    `mapstructure:"metricsPort"`

	// Harvest settings.
	HarvestCron string `mapstructure:"harvestCron"`
	AniListURL  string `mapstructure:"anilistUrl"`

	// Torrent search settings.
	NyaaURL               string `mapstructure:"nyaaUrl"`
	SearchAttempts        int    `mapstructure:"searchAttempts"`
	SearchBackoffType     string `mapstructure:"searchBackoffType"`
	SearchBackoffSeconds  int    `mapstructure:"searchBackoffSeconds"`
	SearchResultLimit     int    `mapstructure:"searchResultLimit"`
	SearchTimeoutSeconds  int    `mapstructure:"searchTimeoutSeconds"`

	// Inbound command bus. Disabled when no URL is configured.
	NatsURL     string `mapstructure:"natsUrl"`
	NatsSubject string `mapstructure:"natsSubject"`

	// Alerting sink. Disabled when no URL is configured.
	AlertWebhookURL string `mapstructure:"alertWebhookUrl"`
}
