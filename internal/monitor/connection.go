package monitor

import (
	"context"
	"sync"
	"time"

	"meshbridge/internal/mesh"
	"meshbridge/internal/metrics"
	"meshbridge/internal/models"

	"github.com/sirupsen/logrus"
)

// ConnectionMonitor owns the single ConnectionStatus of the service.
type ConnectionMonitor struct {
	provider     NetworkStatusProvider
	transport    mesh.Transport
	pollInterval time.Duration
	logger       *logrus.Logger
	metrics      *metrics.Registry
	now          func() time.Time

	mu          sync.RWMutex
	status      models.ConnectionStatus
	onReachable func()
	unsubscribe func()
}

// NewConnectionMonitor seeds store reachability from provider. transport may be nil.
func NewConnectionMonitor(provider NetworkStatusProvider, transport mesh.Transport, pollInterval time.Duration, logger *logrus.Logger, registry *metrics.Registry) *ConnectionMonitor {
	m := &ConnectionMonitor{
		provider:     provider,
		transport:    transport,
		pollInterval: pollInterval,
		logger:       logger,
		metrics:      metrics.Or(registry),
		now:          time.Now,
	}
	m.status = models.ConnectionStatus{
		Store:    provider.Online(),
		Mesh:     models.MeshStatus{Transports: map[string]bool{}},
		LastSync: m.now(),
	}
	return m
}

// OnStoreReachable sets the hook run after the store becomes reachable.
func (m *ConnectionMonitor) OnStoreReachable(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReachable = fn
}

// Run subscribes to the provider and polls the mesh until ctx ends.
func (m *ConnectionMonitor) Run(ctx context.Context) {
	unsubscribe := m.provider.Subscribe(m.HandleNetworkChange)
	defer unsubscribe()

	m.HandleNetworkChange(m.provider.Online())

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshMesh(ctx)
		}
	}
}

// HandleNetworkChange records a store reachability signal.
func (m *ConnectionMonitor) HandleNetworkChange(online bool) {
	m.mu.Lock()
	was := m.status.Store
	m.status.Store = online
	m.status.LastSync = m.now()
	hook := m.onReachable
	m.mu.Unlock()

	m.recordConnectivity("store", online)
	if was == online {
		return
	}

	m.logger.WithField("store_reachable", online).Info("Store connectivity changed")
	if online && hook != nil {
		hook()
	}
}

// MarkStoreReachable records a successful store write.
func (m *ConnectionMonitor) MarkStoreReachable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Store = true
	m.status.LastSync = m.now()
}

// StoreReachable reports the last known store reachability.
func (m *ConnectionMonitor) StoreReachable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Store
}

// MeshInitialized reports whether the mesh is up as of the last refresh.
func (m *ConnectionMonitor) MeshInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Mesh.Initialized
}

// RefreshMesh copies the transport status into the snapshot.
func (m *ConnectionMonitor) RefreshMesh(ctx context.Context) {
	if m.transport == nil {
		return
	}
	st, err := m.transport.GetStatus(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read mesh status")
		return
	}

	active := 0
	transports := make(map[string]bool, len(st.Transports))
	for name, up := range st.Transports {
		transports[name] = up
		if up {
			active++
		}
	}

	m.mu.Lock()
	m.status.Mesh = models.MeshStatus{
		Initialized:       st.Initialized,
		Transports:        transports,
		ActiveConnections: active,
		QueueSize:         st.Queue.Size,
	}
	m.status.LastSync = m.now()
	m.mu.Unlock()

	m.recordConnectivity("mesh", st.Initialized && active > 0)
}

// ResetMesh marks the mesh as down after the transport has been shut down.
func (m *ConnectionMonitor) ResetMesh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Mesh = models.MeshStatus{Transports: map[string]bool{}}
	m.status.LastSync = m.now()
}

// SetPending records the pending message count.
func (m *ConnectionMonitor) SetPending(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.PendingMessages = n
	m.status.LastSync = m.now()
}

// Snapshot returns a deep copy of the current status.
func (m *ConnectionMonitor) Snapshot() models.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Copy()
}

func (m *ConnectionMonitor) recordConnectivity(target string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.metrics.SetGauge(metrics.Connectivity, v, map[string]string{"target": target}, "1 when the target is reachable")
}
