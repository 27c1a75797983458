package constants

import "time"

// Default messaging configuration values
const (
	DefaultRetryAttempts       = 3
	DefaultTimeoutMs           = 30000
	DefaultBatchSize           = 10
	DefaultCompressionLevel    = 0.8
	DefaultRetryDelaySec       = 30
	DefaultSyncIntervalSec     = 5
	DefaultMeshPollIntervalSec = 10
)

// Mesh payload derivation
const (
	MaxMeshTokens         = 5
	MinTokenLength        = 4
	BaseIntentStrength    = 0.5
	SalienceBonus         = 0.1
	JournalIntentBonus    = 0.2
	CircleIntentBonus     = 0.15
	JournalTTLSec         = 86400
	DefaultTTLSec         = 3600
	CircleHopLimit        = 3
	DefaultHopLimit       = 5
	DefaultIntentStrength = 0.8
)

// Store record defaults
const (
	DefaultDirectMessageType = "text"
	DefaultCircleVisibility  = "circle"
	JournalSource            = "unified_messaging"
	AnonymousSenderID        = "anonymous"
)

// Default retry/backoff values
const (
	DefaultRetryBackoffMs         = 1000
	DefaultMaxBackoffMs           = 60000
	DefaultMaxAttempts            = 5
	DefaultDatabaseRetryAttempts  = 3
	DefaultRelayDialTimeoutSec    = 10
	DefaultRelayWriteTimeoutSec   = 10
	DefaultRelayMaxQueuedMessages = 256
)

// Circuit breaker guarding inbound store reconciliation
const (
	CBMaxFailures      = 5
	CBOpenTimeout      = 30 * time.Second
	CBHalfOpenMaxCalls = 3
)

// Default network probe values
const (
	DefaultProbeIntervalSec = 15
	DefaultProbeTimeoutSec  = 5
)

// Default server values
const (
	DefaultServerPort            = 8085
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 45
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	MaxRequestBodyBytes          = 1 << 20
)

// HTTP API input limits
const (
	MaxContentLength     = 64 * 1024
	MaxIdentifierLength  = 128
	MaxDeliveryTimeoutMs = 5 * 60 * 1000
	MaxRequestedRetries  = 20
)

// Privacy settings
const (
	DefaultIDMaskLength    = 8
	DefaultUserIDMaskShown = 4
)

const TracingShutdownTimeout = 5 * time.Second

// Encryption at rest
const (
	EncryptionSalt         = "meshbridge-store-salt-v1"
	EncryptionEnableEnv    = "MESHBRIDGE_ENABLE_ENCRYPTION"
	EncryptionSecretEnv    = "MESHBRIDGE_ENCRYPTION_SECRET"
	MinEncryptionSecretLen = 32
)
