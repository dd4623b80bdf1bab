package constants

import "time"

// Server defaults
const (
	DefaultServerPort            = 8787
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultMaxBodyBytes          = 64 * 1024
	ServiceName                  = "beam-lite-worker"
	ServerErrorChannelSize       = 1
)

// Storage defaults
const (
	DefaultStorageBackend        = "sqlite"
	DefaultDatabasePath          = "beam.db"
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 2000
	DefaultPendingRetentionDays  = 7
	DefaultPurgeIntervalHours    = 6
)

// Rate limiting defaults for the enqueue path
const (
	DefaultEnqueueRateLimit     = 30
	DefaultEnqueueWindowSeconds = 60
)

// Push defaults
const (
	DefaultPushTTLSeconds        = 60
	DefaultPushUrgency           = "high"
	DefaultVAPIDSubject          = "mailto:beam-lite@example.com"
	DefaultVAPIDTokenTTL         = 12 * time.Hour
	DefaultPushHTTPTimeoutSec    = 10
	DefaultPushBreakerFailures   = 5
	DefaultPushBreakerTimeoutSec = 60
)

// Device and item limits
const (
	MaxDeviceNameLength = 120
	MaxURLLength        = 8192
	ItemIDPrefix        = "itm_"
	DeviceIDPrefix      = "chr_"
)

// HTTP headers
const (
	HeaderInboxKey   = "X-Inbox-Key"
	HeaderRetryAfter = "Retry-After"
)

// Receiver runtime
const (
	RecentURLWindow               = 60 * time.Second
	StormWindow                   = time.Second
	MaxTabsPerWindow              = 3
	CatchUpAlarmName              = "beam-catchup"
	DefaultCatchUpInterval        = time.Minute
	DefaultReceiverHTTPTimeoutSec = 15
	DefaultReceiverListenAddr     = ":8788"
	DefaultReceiverStatePath      = "beam-receiver.db"
	DefaultReceiverDeviceName     = "Beam Receiver"
	ReceiverPushPath              = "/push"
)

// At-rest encryption
const (
	EncryptionSalt       = "beam-kv-at-rest-v1"
	EncryptionIterations = 100000
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
)
