package constants

// ServiceVersion is reported by the root endpoint and --version.
const ServiceVersion = "1.0.0"

// Default polling configuration values
const (
	DefaultPollIntervalSec      = 30
	DefaultPollTimeoutSec       = 10
	DefaultPollPageSize         = 20
	DefaultCarrierLookbackSec   = 5 * 60
	DefaultGatewayLookbackSec   = 24 * 60 * 60
	DefaultRetentionDays        = 7
	DefaultCleanupIntervalHours = 24
	DefaultServerPort           = 3002
	DefaultSeenCacheTTLSec      = 48 * 60 * 60
	DefaultRetryBackoffMs       = 1000
	DefaultMaxBackoffMs         = 60000
	DefaultMaxAttempts          = 5
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultCacheTimeoutMs        = 500
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultBodyPreviewLen  = 50
)

// Encryption parameters for stored message bodies
const (
	EncryptionSalt       = "smsrelay-body-text-v1"
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
	EncryptionIterations = 100000
	MinEncryptionSecret  = 32
)
