// Package model defines the shared entity types mirrored from spec §3.
// These are semantic types, not storage rows — internal/storage maps them
// to and from Postgres.
package model

import "time"

type ConnectorType string

const (
	ConnectorSeries     ConnectorType = "seriesServer"
	ConnectorMovie      ConnectorType = "movieServer"
	ConnectorAdultMovie ConnectorType = "adultMovieServer"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthUnknown   HealthStatus = "unknown"
)

// Connector is a configured upstream *arr server.
type Connector struct {
	ID               int64
	Type             ConnectorType
	Name             string
	URL              string
	APIKeyEncrypted  string
	Enabled          bool
	HealthStatus     HealthStatus
	LastSyncAt       *time.Time
	ThrottleProfileID *int64
}

// ContentType distinguishes the two searchable catalog kinds.
type ContentType string

const (
	ContentEpisode ContentType = "episode"
	ContentMovie   ContentType = "movie"
)

// Series mirrors an upstream TV series.
type Series struct {
	ID          int64
	ConnectorID int64
	UpstreamID  int64
	Title       string
	Monitored   bool
}

// Season mirrors an upstream season within a series.
type Season struct {
	ID           int64
	SeriesID     int64
	SeasonNumber int
	Monitored    bool
}

// Episode mirrors an upstream episode.
type Episode struct {
	ID                  int64
	ConnectorID         int64
	UpstreamID          int64
	SeriesID            int64
	SeasonNumber        int
	EpisodeNumber       int
	HasFile             bool
	Monitored           bool
	QualityCutoffNotMet bool
	Quality             *string
}

// Movie mirrors an upstream movie.
type Movie struct {
	ID                  int64
	ConnectorID         int64
	UpstreamID          int64
	Title               string
	HasFile             bool
	Monitored           bool
	QualityCutoffNotMet bool
	Quality             *string
}

type SearchType string

const (
	SearchGap     SearchType = "gap"
	SearchUpgrade SearchType = "upgrade"
)

type RegistryState string

const (
	StatePending    RegistryState = "pending"
	StateQueued     RegistryState = "queued"
	StateSearching  RegistryState = "searching"
	StateCooldown   RegistryState = "cooldown"
	StateExhausted  RegistryState = "exhausted"
)

// SearchRegistry is the unit of work in the queue engine (spec §3/§4.2).
type SearchRegistry struct {
	ID             int64
	ConnectorID    int64
	ContentType    ContentType
	ContentID      int64
	SearchType     SearchType
	State          RegistryState
	AttemptCount   int
	NextEligibleAt *time.Time
	BacklogTier    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandStarted   CommandStatus = "started"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// PendingCommand is a dispatched search awaiting a terminal state.
type PendingCommand struct {
	ID            int64
	ConnectorID   int64
	CommandID     string
	ContentType   ContentType
	ContentID     int64
	CommandStatus CommandStatus
	DispatchedAt  time.Time
}

// ThrottleProfile is a named bundle of throttle parameters (spec §3).
type ThrottleProfile struct {
	ID                    int64
	Name                  string
	RequestsPerMinute     int
	DailyBudget           *int // nil = unlimited
	BatchSize             int
	BatchCooldownSeconds  int
	RateLimitPauseSeconds int
	IsDefault             bool
}

type PauseReason string

const (
	PauseRateLimit     PauseReason = "rateLimit"
	PauseDailyBudget   PauseReason = "dailyBudgetExhausted"
	PauseManual        PauseReason = "manual"
)

// ThrottleState is the per-connector runtime counter set (spec §3/§4.1).
type ThrottleState struct {
	ConnectorID       int64
	RequestsThisMinute int
	RequestsToday      int
	MinuteWindowStart  time.Time
	DayWindowStart     time.Time
	PausedUntil        *time.Time
	PauseReason        *PauseReason
	LastRequestAt      *time.Time
}

// SyncState tracks the reconnect controller's per-connector backoff state.
type SyncState struct {
	ConnectorID        int64
	ReconnectAttempts  int
	NextReconnectAt    *time.Time
	ReconnectStartedAt *time.Time
	LastReconnectError *string
	ReconnectPaused    bool
}

type AnalyticsEventType string

const (
	EventGapDiscovered     AnalyticsEventType = "gapDiscovered"
	EventUpgradeDiscovered AnalyticsEventType = "upgradeDiscovered"
	EventSearchDispatched  AnalyticsEventType = "searchDispatched"
	EventSearchCompleted   AnalyticsEventType = "searchCompleted"
	EventSearchFailed      AnalyticsEventType = "searchFailed"
	EventSearchNoResults   AnalyticsEventType = "searchNoResults"
	EventQueueDepthSampled AnalyticsEventType = "queueDepthSampled"
	EventSyncCompleted     AnalyticsEventType = "syncCompleted"
	EventSyncFailed        AnalyticsEventType = "syncFailed"
)

// AnalyticsEvent is a single polymorphic analytics row (spec §3/§4.6).
type AnalyticsEvent struct {
	ID          int64
	ConnectorID *int64
	EventType   AnalyticsEventType
	EventData   map[string]any
	CreatedAt   time.Time
}

// NotificationChannelType enumerates the sender types spec §3 lists.
type NotificationChannelType string

const (
	ChannelDiscord  NotificationChannelType = "discord"
	ChannelTelegram NotificationChannelType = "telegram"
	ChannelSlack    NotificationChannelType = "slack"
	ChannelEmail    NotificationChannelType = "email"
	ChannelWebhook  NotificationChannelType = "webhook"
)

// NotificationChannel is a configured delivery destination (spec §3).
type NotificationChannel struct {
	ID                      int64
	Type                    NotificationChannelType
	Config                  map[string]any
	SensitiveConfigEncrypted string
	BatchingEnabled         bool
	BatchingWindowSeconds   int
	QuietHoursEnabled       bool
	QuietHoursStart         int // hour, 0-23
	QuietHoursEnd           int // hour, 0-23
	QuietHoursTimezone      string
}

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationBatched NotificationStatus = "batched"
)

// NotificationHistory is one dispatch attempt/outcome (spec §3).
type NotificationHistory struct {
	ID        int64
	ChannelID int64
	EventType AnalyticsEventType
	Payload   map[string]any
	Status    NotificationStatus
	BatchID   *string
	CreatedAt time.Time
	SentAt    *time.Time
}

type SweepType string

const (
	SweepIncremental       SweepType = "incremental"
	SweepFullReconciliation SweepType = "fullReconciliation"
)

// Schedule is a dynamic, user-defined sweep schedule (spec §3).
type Schedule struct {
	ID             int64
	Name           string
	CronExpression string
	Timezone       string
	SweepType      SweepType
	ConnectorID    *int64
	Enabled        bool
	NextRunAt      time.Time
}
