package privacy

import (
	"strings"

	"meshbridge/internal/constants"
)

// HiddenContent replaces message bodies in non-verbose logs.
const HiddenContent = "[hidden]"

// MaskMessageID masks a message ID, keeping the tail for correlation.
// Example: "verylongmessageid" -> "*********essageid"
func MaskMessageID(messageID string) string {
	return maskString(messageID, constants.DefaultIDMaskLength)
}

// MaskUserID masks a user identifier
// Example: "user123456" -> "******3456"
func MaskUserID(userID string) string {
	return maskString(userID, constants.DefaultUserIDMaskShown)
}

// MaskPeerID masks a mesh peer address. Scheme-like prefixes ("peer:",
// "node:") stay readable.
func MaskPeerID(peerID string) string {
	if peerID == "" {
		return ""
	}
	if idx := strings.Index(peerID, ":"); idx > 0 && idx < len(peerID)-1 {
		return peerID[:idx+1] + maskString(peerID[idx+1:], constants.DefaultUserIDMaskShown)
	}
	return maskString(peerID, constants.DefaultUserIDMaskShown)
}

// HideContent returns a placeholder for non-empty content.
func HideContent(content string) string {
	if content == "" {
		return ""
	}
	return HiddenContent
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, isString := v.(string)
		if !isString {
			masked[k] = v
			continue
		}
		switch k {
		case "message_id", "messageId":
			masked[k] = MaskMessageID(s)
		case "user_id", "userId", "sender_id", "senderId", "recipient_id", "recipientId", "circle_id", "circleId":
			masked[k] = MaskUserID(s)
		case "peer_id", "peerId", "from", "to":
			masked[k] = MaskPeerID(s)
		case "content", "note", "body":
			masked[k] = HideContent(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
