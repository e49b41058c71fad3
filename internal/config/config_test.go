package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "SQLite")
	t.Setenv("INGEST_BATCH_CONCURRENCY", "8")
	t.Setenv("INGEST_MACHINE_LOOKUP_TIMEOUT", "750ms")

	cfg := Load()

	assert.Equal(t, "coinpulse", cfg.AppName)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, 8, cfg.Ingest.BatchConcurrency)
	assert.Equal(t, 750*time.Millisecond, cfg.Ingest.MachineLookupTimeout)
	assert.Equal(t, 3, cfg.Ingest.RollupMaxAttempts)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestIngestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, IngestConfig{}.Location())
	assert.Equal(t, time.UTC, IngestConfig{Timezone: "Not/AZone"}.Location())

	loc := IngestConfig{Timezone: "Europe/Berlin"}.Location()
	require.NotNil(t, loc)
	assert.Equal(t, "Europe/Berlin", loc.String())
}
