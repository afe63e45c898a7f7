// Package responder defines the boundary to the LLM-backed client
// persona and support agents. Each responder is a stateless capability
// constructed once at process start and injected into the state
// machine, so tests can substitute scripted fakes.
package responder

import (
	"context"
	"strings"

	"github.com/avh-lab/repchat/internal/domain"
)

// FinishPrefix marks a persona reply that terminates the round
// regardless of the representative message count.
const FinishPrefix = "FINISH:"

// FinishSentinel is the literal emitted when the server-side turn cap
// ends a round.
const FinishSentinel = "FINISH:999"

// IsFinish reports whether a persona reply is a termination sentinel.
func IsFinish(reply string) bool {
	return strings.HasPrefix(reply, FinishPrefix)
}

// Persona produces the simulated client's side of a conversation.
type Persona interface {
	// OpeningComplaint generates the client's first message from the
	// profile's complaint parameters.
	OpeningComplaint(ctx context.Context, profile *domain.ClientProfile) (string, error)

	// Reply continues the conversation given the transcript so far and
	// the representative's newest message. May return a FinishPrefix
	// sentinel to end the round early.
	Reply(ctx context.Context, transcript *domain.ConversationTranscript, input string, civil bool) (string, error)
}

// Reframe is the structured output of the emotional reframing agent.
type Reframe struct {
	Thought string `json:"thought"`
	Reframe string `json:"reframe"`
}

// EmotionalAgent offers emotional coaching to the representative.
type EmotionalAgent interface {
	// ReframeEmotion returns a probable client thought plus a reframing
	// suggestion for the complaint.
	ReframeEmotion(ctx context.Context, complaint string, transcript *domain.ConversationTranscript) (Reframe, error)

	// PerspectiveTake returns a put-yourself-in-their-shoes prompt.
	PerspectiveTake(ctx context.Context, complaint string, transcript *domain.ConversationTranscript) (string, error)
}

// InformationalAgent offers response cues and resolution guidance.
type InformationalAgent interface {
	// ResponseCues suggests concrete reply content for the complaint.
	ResponseCues(ctx context.Context, domainName, complaint string, transcript *domain.ConversationTranscript) (string, error)

	// ResolutionGuidance outlines steps toward resolving the complaint.
	ResolutionGuidance(ctx context.Context, domainName, complaint string, transcript *domain.ConversationTranscript) (string, error)
}

// SentimentClassifier maps client text to a sentiment category.
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (string, error)
}
