package service

// Logging standards for meshbridge
//
// Standard field names shared by every component that logs about a
// message. Use these exact names so log queries work across packages.
const (
	// Core identifiers
	LogFieldMessageID   = "message_id"
	LogFieldSenderID    = "sender_id"
	LogFieldRecipientID = "recipient_id"
	LogFieldCircleID    = "circle_id"
	LogFieldPeerID      = "peer_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"

	// Message and delivery fields
	LogFieldMessageType    = "message_type"
	LogFieldDeliveryMethod = "delivery_method"
	LogFieldStatus         = "status"
	LogFieldDirection      = "direction" // "incoming" or "outgoing"
	LogFieldContent        = "content"

	// HTTP request fields
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldRoute      = "route"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldStatusCode = "status_code"
	LogFieldSize       = "size_bytes"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// Error and retry
	LogFieldErrorCode  = "error_code"
	LogFieldRetryCount = "retry_count"
	LogFieldRetryLimit = "retry_limit"
)

// Log level usage
//
// DEBUG: per-message flow, raw payload shapes (sanitized), scheduler ticks
// that found nothing to do.
//
// INFO: startup and shutdown, connectivity changes, a message delivered
// on retry.
//
// WARN: a delivery attempt failed but the message is queued for retry,
// fallback to the mesh was used, inbound reconciliation was skipped.
//
// ERROR: a message permanently failed, a component could not start.

// Message patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
//
// logger.WithFields(logrus.Fields{
//     LogFieldMessageID:      privacy.MaskMessageID(msg.ID),
//     LogFieldDeliveryMethod: msg.DeliveryMethod,
//     LogFieldDirection:      "outgoing",
// }).Info("Message delivered")
