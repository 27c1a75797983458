package models

import "time"

// Config holds the application configuration
type Config struct {
	Messaging MessagingConfig `json:"messaging"`
	Database  DatabaseConfig  `json:"database"`
	Mesh      MeshConfig      `json:"mesh"`
	Network   NetworkConfig   `json:"network"`
	Retry     RetryConfig     `json:"retry"`
	Server    ServerConfig    `json:"server"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// MessagingConfig tunes the delivery core.
type MessagingConfig struct {
	MeshEnabled         *bool   `json:"meshEnabled"`
	MeshAsFallback      *bool   `json:"meshAsFallback"`
	RetryAttempts       int     `json:"retryAttempts"`
	TimeoutMs           int     `json:"timeoutMs"`
	BatchSize           int     `json:"batchSize"`
	CompressionLevel    float64 `json:"compressionLevel"`
	RetryDelaySec       int     `json:"retryDelaySec"`
	SyncIntervalSec     int     `json:"syncIntervalSec"`
	MeshPollIntervalSec int     `json:"meshPollIntervalSec"`
	HybridCancelLoser   bool    `json:"hybridCancelLoser"`
}

// IsMeshEnabled defaults to true when unset.
func (c MessagingConfig) IsMeshEnabled() bool {
	return c.MeshEnabled == nil || *c.MeshEnabled
}

// IsMeshAsFallback defaults to true when unset.
func (c MessagingConfig) IsMeshAsFallback() bool {
	return c.MeshAsFallback == nil || *c.MeshAsFallback
}

func (c MessagingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c MessagingConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

func (c MessagingConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

func (c MessagingConfig) MeshPollInterval() time.Duration {
	return time.Duration(c.MeshPollIntervalSec) * time.Second
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MeshConfig holds the relay transport settings.
type MeshConfig struct {
	RelayURL          string `json:"relay_url"`
	PeerID            string `json:"peer_id"`
	DialTimeoutSec    int    `json:"dialTimeoutSec"`
	MaxQueuedMessages int    `json:"maxQueuedMessages"`
}

// NetworkConfig controls how store reachability is detected.
type NetworkConfig struct {
	StoreHealthURL   string `json:"store_health_url"`
	ProbeIntervalSec int    `json:"probeIntervalSec"`
	ProbeTimeoutSec  int    `json:"probeTimeoutSec"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
