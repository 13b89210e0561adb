// Copyright (c) 2025, the koyomi contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("host = \"localhost\"\n"), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Config.Host)
	assert.Equal(t, 7690, cfg.Config.Port)
	assert.Equal(t, "@every 30m", cfg.Config.HarvestCron)
	assert.Equal(t, "https://graphql.anilist.co", cfg.Config.AniListURL)
	assert.Equal(t, "https://nyaa.si", cfg.Config.NyaaURL)
	assert.Equal(t, 3, cfg.Config.SearchAttempts)
	assert.Equal(t, "fixed", cfg.Config.SearchBackoffType)
	assert.Equal(t, 600, cfg.Config.SearchBackoffSeconds)
	assert.Equal(t, 5, cfg.Config.SearchResultLimit)
	assert.Equal(t, "koyomi.torrents.request", cfg.Config.NatsSubject)
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	content := `
harvestCron = "0 */6 * * *"
searchAttempts = 5
searchBackoffType = "exponential"
searchBackoffSeconds = 120
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, "0 */6 * * *", cfg.Config.HarvestCron)
	assert.Equal(t, 5, cfg.Config.SearchAttempts)
	assert.Equal(t, "exponential", cfg.Config.SearchBackoffType)
	assert.Equal(t, 120, cfg.Config.SearchBackoffSeconds)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("searchAttempts = 5\n"), 0o644))

	t.Setenv(envPrefix+"SEARCH_ATTEMPTS", "7")
	t.Setenv(envPrefix+"ANILIST_URL", "http://localhost:9999/graphql")

	cfg, err := New(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Config.SearchAttempts)
	assert.Equal(t, "http://localhost:9999/graphql", cfg.Config.AniListURL)
}

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				require.NoError(t, os.WriteFile(configPath, []byte("host = \"localhost\"\n"), 0o644))
				return configPath, filepath.Join(tmpDir, "koyomi.db")
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string) {
				configPath := filepath.Join(tmpDir, "config.toml")
				dataDir := filepath.Join(tmpDir, "data")
				require.NoError(t, os.MkdirAll(dataDir, 0o755))
				content := fmt.Sprintf("dataDir = %q\n", dataDir)
				require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
				return configPath, filepath.Join(dataDir, "koyomi.db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, expectedDBPath := tt.prepare(t, tmpDir)

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, expectedDBPath, cfg.GetDatabasePath())
			assert.Equal(t, filepath.Join(filepath.Dir(expectedDBPath), "images"), cfg.GetImageDir())
		})
	}
}

func TestWriteDefaultConfigDoesNotOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("port = 1234\n"), 0o644))

	require.NoError(t, WriteDefaultConfig(configPath))

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "port = 1234\n", string(content))
}
