package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/ticketbooth/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticketbooth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sandbox", cfg.Settlement.Mode)
	assert.True(t, cfg.Settlement.AutoSettle)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
addr: ":9090"
log:
  format: json
booth:
  ticket_ttl: 2h
  default_stream_price: "0.25"
  strict_streams: true
notify:
  mode: webhook
  secret: s3cret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level, "unset nested fields keep defaults")
	assert.Equal(t, 2*time.Hour, cfg.Booth.TicketTTL)
	assert.Equal(t, 5*time.Second, cfg.Booth.MeterFlushInterval)
	assert.True(t, cfg.Booth.StrictStreams)
	assert.Equal(t, "webhook", cfg.Notify.Mode)

	price, err := cfg.Booth.streamPrice()
	require.NoError(t, err)
	assert.Equal(t, types.USDC(250000), price)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"settlement mode", func(c *Config) { c.Settlement.Mode = "cash" }},
		{"facilitator url", func(c *Config) { c.Settlement.Mode = "facilitator" }},
		{"notify mode", func(c *Config) { c.Notify.Mode = "pager" }},
		{"stream price", func(c *Config) { c.Booth.DefaultStreamPrice = "-1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "settlement:\n  mode: cash\n"))
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBoothOptionsBuildsCollaborators(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analyzer.BaseURL = "http://analyzer.local"
	cfg.Notify.Mode = "webhook"

	logger, err := newLogger(cfg.Log)
	require.NoError(t, err)

	opts, err := boothOptions(cfg, logger, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	cfg.Settlement.Mode = "facilitator"
	cfg.Settlement.BaseURL = "http://facilitator.local"
	gw, err := newGateway(cfg.Settlement, logger)
	require.NoError(t, err)
	assert.NotNil(t, gw)
}
