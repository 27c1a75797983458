// Package intent derives the compact mesh representation of a message:
// a handful of keyword tokens plus a salience score.
package intent

import (
	"strings"
	"unicode/utf8"

	"meshbridge/internal/constants"
	"meshbridge/internal/models"
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "are": {},
	"was": {}, "were": {}, "been": {}, "have": {}, "has": {},
	"had": {}, "will": {}, "would": {}, "could": {}, "should": {},
}

// salienceWords are matched as substrings of the lowercased content, so
// "blessings" and "peaceful" both count.
var salienceWords = []string{"love", "peace", "joy", "gratitude", "sacred", "divine", "blessing"}

// ExtractTokens returns at most MaxMeshTokens words from content, in order,
// skipping short words and stop words.
func ExtractTokens(content string) []string {
	tokens := make([]string, 0, constants.MaxMeshTokens)
	for _, word := range strings.Fields(strings.ToLower(content)) {
		if utf8.RuneCountInString(word) < constants.MinTokenLength {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		tokens = append(tokens, word)
		if len(tokens) == constants.MaxMeshTokens {
			break
		}
	}
	return tokens
}

// ComputeIntentStrength scores content in [0,1].
func ComputeIntentStrength(content string, mctx models.MessageContext) float64 {
	strength := constants.BaseIntentStrength

	lower := strings.ToLower(content)
	for _, w := range salienceWords {
		if strings.Contains(lower, w) {
			strength += constants.SalienceBonus
		}
	}

	switch mctx.Type {
	case models.MessageTypeJournal:
		strength += constants.JournalIntentBonus
	case models.MessageTypeCircle:
		strength += constants.CircleIntentBonus
	}

	return clamp(strength)
}

// BuildMeshPayload derives the full payload for content going to mctx.
func BuildMeshPayload(content string, mctx models.MessageContext) *models.MeshPayload {
	ttl := constants.DefaultTTLSec
	if mctx.Type == models.MessageTypeJournal {
		ttl = constants.JournalTTLSec
	}
	hops := constants.DefaultHopLimit
	if mctx.Visibility == models.VisibilityCircle {
		hops = constants.CircleHopLimit
	}
	return &models.MeshPayload{
		Tokens:         ExtractTokens(content),
		IntentStrength: ComputeIntentStrength(content, mctx),
		TTL:            ttl,
		HopLimit:       hops,
	}
}

// ContextOf rebuilds the context a message was sent with, as far as the
// message records it.
func ContextOf(msg *models.UnifiedMessage) models.MessageContext {
	target := msg.RecipientID
	if msg.Type == models.MessageTypeCircle {
		target = msg.CircleID
	}
	return models.MessageContext{
		Type:       msg.Type,
		TargetID:   target,
		Visibility: models.Visibility(msg.MetadataString("visibility")),
		Metadata:   msg.Metadata,
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
