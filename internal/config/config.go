package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Remote kinds
const (
	RemoteCouchDB = "couchdb"
	RemoteMongo   = "mongodb"
)

// Config holds all application configuration
type Config struct {
	ServerAddress string    `json:"serverAddress"`
	DatabasePath  string    `json:"databasePath"`
	DatabaseURL   string    `json:"databaseUrl"`
	Remote        Remote    `json:"remote"`
	Places        Places    `json:"places"`
	Identity      Identity  `json:"identity"`
	Sync          Sync      `json:"sync"`
	Security      Security  `json:"security"`
	Telemetry     Telemetry `json:"telemetry"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Remote describes the replication peer
type Remote struct {
	Kind     string `json:"kind"`
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`

	TokenURL     string `json:"tokenUrl"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`

	MongoURI        string `json:"mongoUri"`
	MongoCollection string `json:"mongoCollection"`

	TimeoutSeconds int `json:"timeoutSeconds"`
}

// Places configures the nearby-place lookup
type Places struct {
	BaseURL         string  `json:"baseUrl"`
	RadiusMeters    float64 `json:"radiusMeters"`
	RedisURL        string  `json:"redisUrl"`
	CacheTTLSeconds int     `json:"cacheTtlSeconds"`
}

// Identity is who recorded fixes belong to
type Identity struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

// Sync configures the coordinator
type Sync struct {
	SessionTimeoutSeconds int  `json:"sessionTimeoutSeconds"`
	PullLimit             int  `json:"pullLimit"`
	PullOnStart           bool `json:"pullOnStart"`
	IntervalSeconds       int  `json:"intervalSeconds"`
}

// Security configuration
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Telemetry configures OTLP export of traces and metrics
type Telemetry struct {
	Enabled               bool    `json:"enabled"`
	Endpoint              string  `json:"endpoint"`
	Environment           string  `json:"environment"`
	SampleRatio           float64 `json:"sampleRatio"`
	ExportIntervalSeconds int     `json:"exportIntervalSeconds"`
}

// ExportInterval as a duration
func (t Telemetry) ExportInterval() time.Duration {
	return time.Duration(t.ExportIntervalSeconds) * time.Second
}

// SessionTimeout as a duration
func (s Sync) SessionTimeout() time.Duration {
	return time.Duration(s.SessionTimeoutSeconds) * time.Second
}

// Interval between scheduled syncs; zero disables scheduling
func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Timeout as a duration
func (r Remote) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// CacheTTL as a duration
func (p Places) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5000",
		DatabasePath:  "tracker.db",
		Remote: Remote{
			Kind:            RemoteCouchDB,
			Protocol:        "https",
			Database:        "locations",
			MongoCollection: "locations",
			TimeoutSeconds:  30,
		},
		Places: Places{
			RadiusMeters:    100,
			CacheTTLSeconds: 300,
		},
		Sync: Sync{
			SessionTimeoutSeconds: 120,
			PullLimit:             500,
			PullOnStart:           true,
		},
		Security: Security{
			APIKeyHeader: "X-API-Key",
		},
		Telemetry: Telemetry{
			Endpoint:              "localhost:4317",
			Environment:           "development",
			SampleRatio:           1,
			ExportIntervalSeconds: 30,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	}

	// Override from environment variables
	setString(&cfg.ServerAddress, "SERVER_ADDRESS")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.DatabaseURL, "DATABASE_URL")

	setString(&cfg.Remote.Kind, "REMOTE_KIND")
	setString(&cfg.Remote.Protocol, "REMOTE_PROTOCOL")
	setString(&cfg.Remote.Host, "REMOTE_HOST")
	setString(&cfg.Remote.Database, "REMOTE_DB")
	setString(&cfg.Remote.Username, "REMOTE_USERNAME")
	setString(&cfg.Remote.Password, "REMOTE_PASSWORD")
	setString(&cfg.Remote.TokenURL, "REMOTE_TOKEN_URL")
	setString(&cfg.Remote.ClientID, "REMOTE_CLIENT_ID")
	setString(&cfg.Remote.ClientSecret, "REMOTE_CLIENT_SECRET")
	setString(&cfg.Remote.MongoURI, "MONGODB_URI")
	setString(&cfg.Remote.MongoCollection, "MONGODB_COLLECTION")

	setString(&cfg.Places.BaseURL, "PLACES_BASE_URL")
	setString(&cfg.Places.RedisURL, "REDIS_URL")
	if radius := os.Getenv("PLACE_RADIUS_METERS"); radius != "" {
		if r, err := strconv.ParseFloat(radius, 64); err == nil && r > 0 {
			cfg.Places.RadiusMeters = r
		}
	}

	setString(&cfg.Identity.Username, "USERNAME")
	setString(&cfg.Identity.SessionID, "SESSION_ID")
	setString(&cfg.Security.APIKey, "API_KEY")

	setPositiveInt(&cfg.Sync.SessionTimeoutSeconds, "SYNC_SESSION_TIMEOUT_SECONDS")
	setPositiveInt(&cfg.Sync.PullLimit, "PULL_LIMIT")
	setPositiveInt(&cfg.Sync.IntervalSeconds, "SYNC_INTERVAL_SECONDS")
	if v := os.Getenv("SYNC_PULL_ON_START"); v != "" {
		cfg.Sync.PullOnStart = v == "true" || v == "1"
	}

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Environment, "ENVIRONMENT")
	setPositiveInt(&cfg.Telemetry.ExportIntervalSeconds, "OTEL_METRIC_EXPORT_INTERVAL_SECONDS")
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			cfg.Telemetry.SampleRatio = r
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.UsePostgres() && cfg.DatabasePath != ":memory:" {
		absPath, err := filepath.Abs(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		cfg.DatabasePath = absPath
	}

	return cfg, nil
}

// Validate checks settings the agent cannot run without
func (c *Config) Validate() error {
	if c.Identity.Username == "" {
		return fmt.Errorf("username is required (set USERNAME)")
	}
	switch c.Remote.Kind {
	case RemoteCouchDB:
		if c.Remote.Host == "" {
			return fmt.Errorf("remote host is required (set REMOTE_HOST)")
		}
	case RemoteMongo:
		if c.Remote.MongoURI == "" {
			return fmt.Errorf("MongoDB URI is required (set MONGODB_URI)")
		}
	default:
		return fmt.Errorf("unknown remote kind %q", c.Remote.Kind)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setPositiveInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
