package models

import (
	"fmt"
	"time"
)

// MessageType determines which store record a message becomes and which
// inbound handler receives it.
type MessageType string

const (
	MessageTypeDirect  MessageType = "direct"
	MessageTypeCircle  MessageType = "circle"
	MessageTypeJournal MessageType = "journal"
	MessageTypeSystem  MessageType = "system"
)

// DeliveryMethod names the path a message takes to its destination.
type DeliveryMethod string

const (
	DeliveryStore  DeliveryMethod = "store"
	DeliveryMesh   DeliveryMethod = "mesh"
	DeliveryHybrid DeliveryMethod = "hybrid"
)

type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusSent       MessageStatus = "sent"
	StatusDelivered  MessageStatus = "delivered"
	StatusMeshQueued MessageStatus = "mesh_queued"
	StatusFailed     MessageStatus = "failed"
)

// IsSuccess reports whether the status is a terminal success status.
func (s MessageStatus) IsSuccess() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusMeshQueued
}

// Visibility of a message inside the recipient's space.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityCircle  Visibility = "circle"
	VisibilityPrivate Visibility = "private"
)

// MeshPayload is the compact form of a message carried over the mesh.
type MeshPayload struct {
	Tokens         []string `json:"tokens"`
	IntentStrength float64  `json:"intentStrength"`
	TTL            int      `json:"ttl"`
	HopLimit       int      `json:"hopLimit"`
}

// UnifiedMessage is the unit of work handled by the delivery core.
type UnifiedMessage struct {
	ID             string                 `json:"id"`
	Type           MessageType            `json:"type"`
	SenderID       string                 `json:"senderId"`
	RecipientID    string                 `json:"recipientId,omitempty"`
	CircleID       string                 `json:"circleId,omitempty"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	DeliveryMethod DeliveryMethod         `json:"deliveryMethod"`
	Status         MessageStatus          `json:"status"`
	MeshPayload    *MeshPayload           `json:"meshPayload,omitempty"`
	RetryCount     int                    `json:"retryCount"`
	LastRetry      *time.Time             `json:"lastRetry,omitempty"`

	// RetryLimit overrides the configured retry attempts when > 0.
	RetryLimit int `json:"-"`
}

// Transition moves the message to next. A message never returns to
// pending and never leaves a success status.
func (m *UnifiedMessage) Transition(next MessageStatus) error {
	if next == StatusPending && m.Status != StatusPending {
		return fmt.Errorf("message %s cannot return to pending from %s", m.ID, m.Status)
	}
	if m.Status.IsSuccess() && next != m.Status {
		return fmt.Errorf("message %s already %s, refusing %s", m.ID, m.Status, next)
	}
	m.Status = next
	return nil
}

// MetadataString returns the metadata value for key when it is a string.
func (m *UnifiedMessage) MetadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetadataBool returns the metadata value for key when it is a bool.
func (m *UnifiedMessage) MetadataBool(key string) bool {
	if m.Metadata == nil {
		return false
	}
	v, _ := m.Metadata[key].(bool)
	return v
}

// Clone returns a copy that shares no mutable state with m.
func (m *UnifiedMessage) Clone() *UnifiedMessage {
	c := *m
	if m.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	if m.MeshPayload != nil {
		p := *m.MeshPayload
		p.Tokens = append([]string(nil), m.MeshPayload.Tokens...)
		c.MeshPayload = &p
	}
	if m.LastRetry != nil {
		t := *m.LastRetry
		c.LastRetry = &t
	}
	return &c
}

// MessageContext describes where a message is going before it exists.
type MessageContext struct {
	Type       MessageType            `json:"type"`
	TargetID   string                 `json:"targetId,omitempty"`
	Visibility Visibility             `json:"visibility,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DeliveryOptions tune a single send.
type DeliveryOptions struct {
	PreferMesh  bool          `json:"preferMesh"`
	EnableRetry *bool         `json:"enableRetry,omitempty"`
	RetryLimit  int           `json:"retryLimit,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// RetryEnabled defaults to true when EnableRetry is unset.
func (o DeliveryOptions) RetryEnabled() bool {
	return o.EnableRetry == nil || *o.EnableRetry
}

// WithoutRetry returns a copy of o with retry disabled.
func (o DeliveryOptions) WithoutRetry() DeliveryOptions {
	disabled := false
	o.EnableRetry = &disabled
	return o
}

// QueueStats counts messages waiting in the delivery queues.
type QueueStats struct {
	MessageQueue int `json:"messageQueue"`
	RetryQueue   int `json:"retryQueue"`
	TotalPending int `json:"totalPending"`
}
