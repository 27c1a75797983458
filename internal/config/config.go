package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"meshbridge/internal/constants"
	"meshbridge/internal/models"
	"meshbridge/internal/security"

	"github.com/sirupsen/logrus"
)

var (
	ErrMissingDBPath   = models.ConfigError{Message: "missing database path"}
	ErrMissingRelayURL = models.ConfigError{Message: "mesh is enabled but mesh.relay_url is empty (set messaging.meshEnabled to false to run store-only)"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate fills defaults and rejects settings the daemon cannot run with.
func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid log_level %q", c.LogLevel)}
	}

	if err := validateMessaging(&c.Messaging); err != nil {
		return err
	}

	if c.Messaging.IsMeshEnabled() {
		if c.Mesh.RelayURL == "" {
			return ErrMissingRelayURL
		}
		if _, err := url.Parse(c.Mesh.RelayURL); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid mesh.relay_url: %v", err)}
		}
	}
	if c.Mesh.DialTimeoutSec <= 0 {
		c.Mesh.DialTimeoutSec = constants.DefaultRelayDialTimeoutSec
	}
	if c.Mesh.MaxQueuedMessages <= 0 {
		c.Mesh.MaxQueuedMessages = constants.DefaultRelayMaxQueuedMessages
	}

	if c.Network.ProbeIntervalSec <= 0 {
		c.Network.ProbeIntervalSec = constants.DefaultProbeIntervalSec
	}
	if c.Network.ProbeTimeoutSec <= 0 {
		c.Network.ProbeTimeoutSec = constants.DefaultProbeTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxBackoffMs < c.Retry.InitialBackoffMs {
		return models.ConfigError{Message: "retry.maxBackoffMs must not be less than retry.initialBackoffMs"}
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "meshbridge"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
	return nil
}

func validateMessaging(m *models.MessagingConfig) error {
	if m.RetryAttempts <= 0 {
		m.RetryAttempts = constants.DefaultRetryAttempts
	}
	if m.TimeoutMs <= 0 {
		m.TimeoutMs = constants.DefaultTimeoutMs
	}
	if m.BatchSize <= 0 {
		m.BatchSize = constants.DefaultBatchSize
	}
	if m.CompressionLevel == 0 {
		m.CompressionLevel = constants.DefaultCompressionLevel
	}
	if m.CompressionLevel < 0 || m.CompressionLevel > 1 {
		return models.ConfigError{Message: fmt.Sprintf("messaging.compressionLevel must be within [0,1], got %v", m.CompressionLevel)}
	}
	if m.RetryDelaySec <= 0 {
		m.RetryDelaySec = constants.DefaultRetryDelaySec
	}
	if m.SyncIntervalSec <= 0 {
		m.SyncIntervalSec = constants.DefaultSyncIntervalSec
	}
	if m.MeshPollIntervalSec <= 0 {
		m.MeshPollIntervalSec = constants.DefaultMeshPollIntervalSec
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("MESHBRIDGE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if u := os.Getenv("MESHBRIDGE_RELAY_URL"); u != "" {
		c.Mesh.RelayURL = u
	}
	if id := os.Getenv("MESHBRIDGE_PEER_ID"); id != "" {
		c.Mesh.PeerID = id
	}
	if u := os.Getenv("MESHBRIDGE_STORE_HEALTH_URL"); u != "" {
		c.Network.StoreHealthURL = u
	}
	if level := os.Getenv("MESHBRIDGE_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if endpoint := os.Getenv("MESHBRIDGE_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("MESHBRIDGE_ENV") == "production"
	encrypted := os.Getenv(constants.EncryptionEnableEnv) == "true"

	if isProduction {
		if c.LogLevel == "debug" || c.LogLevel == "trace" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if c.Messaging.IsMeshEnabled() {
			if u, err := url.Parse(c.Mesh.RelayURL); err == nil && u.Scheme != "wss" && u.Scheme != "https" {
				return models.ConfigError{Message: "mesh relay must use wss:// in production"}
			}
		}
		if !encrypted {
			fmt.Fprintf(os.Stderr, "WARNING: store encryption is disabled. Set %s=true and %s to encrypt message content at rest.\n",
				constants.EncryptionEnableEnv, constants.EncryptionSecretEnv)
		}
	}

	return nil
}
