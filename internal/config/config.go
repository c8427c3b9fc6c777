// Package config provides centralized configuration loaded from environment
// variables, shared by cmd/engine and cmd/enginectl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Connector types — mirrors spec §3 Connector.type
// --------------------------------------------------------------------------

type ConnectorType string

const (
	ConnectorSeries      ConnectorType = "seriesServer"
	ConnectorMovie       ConnectorType = "movieServer"
	ConnectorAdultMovie  ConnectorType = "adultMovieServer"
)

// --------------------------------------------------------------------------
// Backlog tier delays — configurable per §4.2
// --------------------------------------------------------------------------

// TierDelays maps backlogTier -> recovery delay. Tier 0 is the normal
// (non-backlog) cooldown schedule and is not listed here.
type TierDelays map[int]time.Duration

func DefaultTierDelays() TierDelays {
	return TierDelays{
		1: 7 * 24 * time.Hour,
		2: 30 * 24 * time.Hour,
		3: 90 * 24 * time.Hour,
	}
}

// --------------------------------------------------------------------------
// Config struct
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Admin/status HTTP surface
	AdminHost string
	AdminPort int

	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Secret-at-rest
	SecretKeyHex string // 64 hex chars = 32 bytes

	// Queue engine defaults
	QueueBackoffBase       time.Duration
	QueueBackoffMultiplier float64
	QueueBackoffMax        time.Duration
	QueueMaxAttempts       int
	QueueStaleThreshold    time.Duration
	BacklogTierDelays      TierDelays

	// Throttle built-in fallback preset (used when a connector has no
	// assigned profile and no default profile exists)
	FallbackRequestsPerMinute int
	FallbackDailyBudget       int // 0 = unlimited
	FallbackBatchSize         int
	FallbackBatchCooldown     time.Duration
	FallbackRateLimitPause    time.Duration

	// Reconnect controller
	ReconnectPollInterval time.Duration
	ReconnectBaseDelay    time.Duration
	ReconnectMaxDelay     time.Duration

	// Upstream client
	UpstreamTimeout      time.Duration
	UpstreamUserAgent    string
	NoResultsMarkers     []string
	UpstreamMaxAttempts  int

	// External indexer aggregator (e.g. Prowlarr) health check — the
	// engine never dispatches searches against it directly, only pings it.
	IndexerAggregatorURL             string
	IndexerAggregatorAPIKeyEncrypted string

	// Analytics retention
	AnalyticsEventRetention time.Duration

	// Maintenance
	HistoryRetentionDays int
	LogRetentionDays     int
	MaintenanceBatchSize int
	VacuumFull           bool

	// Scheduled backup (spec §4.9 scheduled-backup, §6 "atomic single-file
	// dumps with a retention count")
	BackupCronExpression string
	BackupDir            string
	BackupRetentionCount int

	ShutdownGracePeriod time.Duration

	// Open question #2: header-trusting vs connection-only client IP.
	TrustProxyHeaders bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("ENGINE_DATABASE_URL", envOr("DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("ENGINE_DATABASE_URL or DATABASE_URL must be set")
	}

	secretKey := envOr("SECRET_KEY", "")
	if secretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY must be set (64 hex characters)")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		AdminHost:   envOr("ADMIN_HOST", "0.0.0.0"),
		AdminPort:   envInt("ADMIN_PORT", envInt("PORT", 8090)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
		}),

		SecretKeyHex: secretKey,

		QueueBackoffBase:       time.Duration(envInt("QUEUE_BACKOFF_BASE_MINUTES", 15)) * time.Minute,
		QueueBackoffMultiplier: envFloat("QUEUE_BACKOFF_MULTIPLIER", 2.0),
		QueueBackoffMax:        time.Duration(envInt("QUEUE_BACKOFF_MAX_HOURS", 24)) * time.Hour,
		QueueMaxAttempts:       envInt("QUEUE_MAX_ATTEMPTS", 8),
		QueueStaleThreshold:    time.Duration(envInt("QUEUE_STALE_THRESHOLD_MINUTES", 10)) * time.Minute,
		BacklogTierDelays:      DefaultTierDelays(),

		FallbackRequestsPerMinute: envInt("THROTTLE_FALLBACK_RPM", 10),
		FallbackDailyBudget:       envInt("THROTTLE_FALLBACK_DAILY_BUDGET", 0),
		FallbackBatchSize:         envInt("THROTTLE_FALLBACK_BATCH_SIZE", 5),
		FallbackBatchCooldown:     time.Duration(envInt("THROTTLE_FALLBACK_BATCH_COOLDOWN_SECONDS", 30)) * time.Second,
		FallbackRateLimitPause:    time.Duration(envInt("THROTTLE_FALLBACK_PAUSE_SECONDS", 60)) * time.Second,

		ReconnectPollInterval: time.Duration(envInt("RECONNECT_POLL_SECONDS", 30)) * time.Second,
		ReconnectBaseDelay:    time.Duration(envInt("RECONNECT_BASE_SECONDS", 30)) * time.Second,
		ReconnectMaxDelay:     time.Duration(envInt("RECONNECT_MAX_MINUTES", 60)) * time.Minute,

		UpstreamTimeout:     time.Duration(envInt("UPSTREAM_TIMEOUT_SECONDS", 30)) * time.Second,
		UpstreamUserAgent:   envOr("UPSTREAM_USER_AGENT", "library-completion-engine/1.0"),
		NoResultsMarkers:    envList("UPSTREAM_NO_RESULTS_MARKERS", []string{"no results found", "nothing found"}),
		UpstreamMaxAttempts: envInt("UPSTREAM_MAX_ATTEMPTS", 3),

		IndexerAggregatorURL:             envOr("INDEXER_AGGREGATOR_URL", ""),
		IndexerAggregatorAPIKeyEncrypted: envOr("INDEXER_AGGREGATOR_API_KEY_ENCRYPTED", ""),

		AnalyticsEventRetention: time.Duration(envInt("ANALYTICS_EVENT_RETENTION_DAYS", 7)) * 24 * time.Hour,

		HistoryRetentionDays: envInt("HISTORY_RETENTION_DAYS", 90),
		LogRetentionDays:     envInt("LOG_RETENTION_DAYS", 14),
		MaintenanceBatchSize: envInt("MAINTENANCE_BATCH_SIZE", 10000),
		VacuumFull:           envBool("MAINTENANCE_VACUUM_FULL", false),

		BackupCronExpression: envOr("BACKUP_CRON_EXPRESSION", "0 2 * * *"),
		BackupDir:            envOr("BACKUP_DIR", "/var/backups/engine"),
		BackupRetentionCount: envInt("BACKUP_RETENTION_COUNT", 7),

		ShutdownGracePeriod: time.Duration(envInt("SHUTDOWN_GRACE_SECONDS", 30)) * time.Second,

		TrustProxyHeaders: envBool("TRUST_PROXY_HEADERS", false),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
