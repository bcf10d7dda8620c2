package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with required environment", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))
		t.Setenv("USERNAME", "alice")
		t.Setenv("REMOTE_HOST", "db.example.com")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":5000", cfg.ServerAddress)
		assert.Equal(t, RemoteCouchDB, cfg.Remote.Kind)
		assert.Equal(t, "https", cfg.Remote.Protocol)
		assert.Equal(t, "locations", cfg.Remote.Database)
		assert.Equal(t, 2*time.Minute, cfg.Sync.SessionTimeout())
		assert.Equal(t, 500, cfg.Sync.PullLimit)
		assert.Zero(t, cfg.Sync.Interval())
		assert.True(t, cfg.Sync.PullOnStart)
		assert.True(t, filepath.IsAbs(cfg.DatabasePath))
		assert.False(t, cfg.UsePostgres())
	})

	t.Run("file then environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"remote": {"host": "file.example.com", "database": "tracks", "username": "svc"},
			"identity": {"username": "bob"},
			"places": {"radiusMeters": 250}
		}`), 0644))

		t.Setenv("CONFIG_PATH", path)
		t.Setenv("REMOTE_DB", "env-tracks")
		t.Setenv("PULL_LIMIT", "50")
		t.Setenv("SYNC_INTERVAL_SECONDS", "300")
		t.Setenv("PLACE_RADIUS_METERS", "not-a-number")
		t.Setenv("SYNC_SESSION_TIMEOUT_SECONDS", "-3")
		t.Setenv("DATABASE_URL", "postgres://localhost/tracker")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "file.example.com", cfg.Remote.Host)
		assert.Equal(t, "env-tracks", cfg.Remote.Database)
		assert.Equal(t, "svc", cfg.Remote.Username)
		assert.Equal(t, "bob", cfg.Identity.Username)
		assert.Equal(t, 250.0, cfg.Places.RadiusMeters)
		assert.Equal(t, 50, cfg.Sync.PullLimit)
		assert.Equal(t, 5*time.Minute, cfg.Sync.Interval())
		assert.Equal(t, 120, cfg.Sync.SessionTimeoutSeconds)
		assert.True(t, cfg.UsePostgres())
	})

	t.Run("telemetry from environment", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))
		t.Setenv("USERNAME", "alice")
		t.Setenv("REMOTE_HOST", "db.example.com")
		t.Setenv("OTEL_ENABLED", "true")
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
		t.Setenv("ENVIRONMENT", "staging")
		t.Setenv("OTEL_METRIC_EXPORT_INTERVAL_SECONDS", "10")
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Telemetry.Enabled)
		assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
		assert.Equal(t, "staging", cfg.Telemetry.Environment)
		assert.Equal(t, 10*time.Second, cfg.Telemetry.ExportInterval())
		assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio, "out of range ratio keeps the default")
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
		t.Setenv("CONFIG_PATH", path)

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("requires username", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Remote.Host = "db"
		assert.ErrorContains(t, cfg.Validate(), "username")
	})

	t.Run("mongodb needs a uri", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Identity.Username = "alice"
		cfg.Remote.Kind = RemoteMongo
		assert.ErrorContains(t, cfg.Validate(), "MONGODB_URI")

		cfg.Remote.MongoURI = "mongodb://localhost"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown remote kind", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Identity.Username = "alice"
		cfg.Remote.Kind = "ftp"
		assert.Error(t, cfg.Validate())
	})
}
