package config

import (
	"context"
	"os"
	"sync"
	"time"

	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultWatchInterval = 5 * time.Second

// ConfigWatcher polls the configuration file and reloads it on change.
// Only the log level is applied live; messaging changes are logged and need a restart.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

// NewConfigWatcher creates a new configuration watcher. A non-positive
// interval falls back to five seconds.
func NewConfigWatcher(configPath string, interval time.Duration, logger *logrus.Logger) *ConfigWatcher {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &ConfigWatcher{
		configPath: configPath,
		interval:   interval,
		logger:     logger,
		callbacks:  make([]func(*models.Config), 0),
	}
}

// Start loads the file once and then polls until ctx is done.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	config, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}

	cw.mu.Lock()
	cw.config = config
	cw.mu.Unlock()

	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.logger.Info("Configuration watcher stopping")
			return nil

		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}

			if stat.ModTime().After(lastModTime) {
				cw.logger.Debug("Configuration file changed")
				lastModTime = stat.ModTime()
				cw.reloadConfig()
			}
		}
	}
}

// GetConfig returns the current configuration (thread-safe)
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback to be called when configuration changes
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reloadConfig() {
	newConfig, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration, keeping previous")
		return
	}

	cw.mu.Lock()
	oldConfig := cw.config
	cw.config = newConfig
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded successfully")

	for _, callback := range callbacks {
		cw.notify(callback, newConfig)
	}

	cw.logConfigChanges(oldConfig, newConfig)
}

func (cw *ConfigWatcher) notify(cb func(*models.Config), c *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(c)
}

func (cw *ConfigWatcher) logConfigChanges(old, new *models.Config) {
	if old == nil {
		return
	}

	if old.LogLevel != new.LogLevel {
		cw.logger.WithFields(logrus.Fields{
			"old": old.LogLevel,
			"new": new.LogLevel,
		}).Info("Log level changed")
	}

	if !sameMessaging(old.Messaging, new.Messaging) {
		cw.logger.Warn("Messaging configuration changed; restart required to apply")
	}

	if old.Mesh != new.Mesh {
		cw.logger.WithFields(logrus.Fields{
			"old_relay": old.Mesh.RelayURL,
			"new_relay": new.Mesh.RelayURL,
		}).Warn("Mesh relay configuration changed; restart required to apply")
	}
}

// sameMessaging compares by value; the *bool switches differ by pointer after every reload.
func sameMessaging(a, b models.MessagingConfig) bool {
	if a.IsMeshEnabled() != b.IsMeshEnabled() || a.IsMeshAsFallback() != b.IsMeshAsFallback() {
		return false
	}
	a.MeshEnabled, a.MeshAsFallback = nil, nil
	b.MeshEnabled, b.MeshAsFallback = nil, nil
	return a == b
}
