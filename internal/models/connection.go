package models

import "time"

// MeshStatus is the last known state of the mesh transport.
type MeshStatus struct {
	Initialized       bool            `json:"initialized"`
	Transports        map[string]bool `json:"transports"`
	ActiveConnections int             `json:"activeConnections"`
	QueueSize         int             `json:"queueSize"`
}

// ConnectionStatus is derived state and is never persisted.
type ConnectionStatus struct {
	Store           bool       `json:"store"`
	Mesh            MeshStatus `json:"mesh"`
	LastSync        time.Time  `json:"lastSync"`
	PendingMessages int        `json:"pendingMessages"`
}

// Copy returns a deep copy of the status.
func (s ConnectionStatus) Copy() ConnectionStatus {
	c := s
	c.Mesh.Transports = make(map[string]bool, len(s.Mesh.Transports))
	for k, v := range s.Mesh.Transports {
		c.Mesh.Transports[k] = v
	}
	return c
}
