package sizing

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "bnb", cfg.Solver)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 0.01, cfg.MIPGap)
	assert.Equal(t, 0, cfg.NrClusters)
}

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(`{
		"solver": "bnb",
		"timeout": "2m",
		"nr_clusters": 3,
		"start_date": "2025-06-21",
		"log_level": "debug"
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.NrClusters)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, "2025-06-21", cfg.StartDate)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset fields keep their defaults.
	assert.Equal(t, 56.9496, cfg.Latitude)
	assert.Equal(t, 0.12, cfg.BuyMarkup)
}

func TestLoadConfigFromReaderBadDuration(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader(`{"timeout": "soon"}`))
	assert.Error(t, err)
}

func TestLoadConfigFromReaderInvalidJSON(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader(`{not json`))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty solver", func(c *Config) { c.Solver = "" }},
		{"negative clusters", func(c *Config) { c.NrClusters = -1 }},
		{"latitude out of range", func(c *Config) { c.Latitude = 91 }},
		{"longitude out of range", func(c *Config) { c.Longitude = -181 }},
		{"malformed start date", func(c *Config) { c.StartDate = "21-06-2025" }},
		{"token without bidding zone", func(c *Config) { c.EntsoeToken = "x"; c.EntsoeArea = "" }},
		{"negative buy markup", func(c *Config) { c.BuyMarkup = -0.1 }},
		{"negative sell margin", func(c *Config) { c.SellMargin = -0.1 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoadConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NrClusters = 5
	cfg.PostgresConnString = "postgres://localhost/sizing"

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
