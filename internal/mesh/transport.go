// Package mesh defines the peer-to-peer transport capability used by the
// delivery core and a websocket relay implementation of it.
package mesh

import "context"

// Payload is what travels between peers.
type Payload struct {
	Tokens         []string `json:"tokens"`
	IntentStrength float64  `json:"intentStrength"`
	Note           string   `json:"note"`
	TTL            int      `json:"ttl"`
	HopLimit       int      `json:"hopLimit"`
}

// QueueStatus reports messages waiting inside the transport.
type QueueStatus struct {
	Size int `json:"size"`
}

// Status is a point-in-time view of the transport.
type Status struct {
	Initialized bool            `json:"initialized"`
	Transports  map[string]bool `json:"transports"`
	Queue       QueueStatus     `json:"queue"`
}

// MessageHandler receives payloads arriving from other peers.
type MessageHandler func(payload Payload, senderID string)

// Transport is the narrow surface the delivery core needs from the mesh.
type Transport interface {
	Initialize(ctx context.Context) error
	GetStatus(ctx context.Context) (Status, error)
	// Send hands payload to the mesh. An empty recipientID broadcasts.
	Send(ctx context.Context, payload Payload, recipientID string) error
	OnMessage(handler MessageHandler)
	Disconnect(ctx context.Context) error
}
