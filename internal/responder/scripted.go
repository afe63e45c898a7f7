package responder

import (
	"context"
	"fmt"

	"github.com/avh-lab/repchat/internal/domain"
)

// Scripted is a deterministic responder for development and tests. It
// implements every capability without network access.
type Scripted struct {
	// FinishAfter, when > 0, makes Reply return the finish sentinel once
	// the transcript holds that many representative messages.
	FinishAfter int
}

var _ Persona = (*Scripted)(nil)
var _ EmotionalAgent = (*Scripted)(nil)
var _ InformationalAgent = (*Scripted)(nil)
var _ SentimentClassifier = (*Scripted)(nil)

// OpeningComplaint implements Persona.
func (s *Scripted) OpeningComplaint(_ context.Context, profile *domain.ClientProfile) (string, error) {
	return fmt.Sprintf("I have a serious %s problem with your %s and I want it fixed now.",
		profile.Category, profile.Domain), nil
}

// Reply implements Persona.
func (s *Scripted) Reply(_ context.Context, transcript *domain.ConversationTranscript, input string, civil bool) (string, error) {
	if s.FinishAfter > 0 && transcript != nil && transcript.RepresentativeCount() >= s.FinishAfter {
		return "FINISH:0", nil
	}
	if civil {
		return "Thank you, but that does not really address my issue.", nil
	}
	return "That is not good enough. What are you actually going to do about it?", nil
}

// ReframeEmotion implements EmotionalAgent.
func (s *Scripted) ReframeEmotion(_ context.Context, complaint string, _ *domain.ConversationTranscript) (Reframe, error) {
	return Reframe{
		Thought: "This client is being unreasonable with me.",
		Reframe: "The client is frustrated with the situation, not with me personally.",
	}, nil
}

// PerspectiveTake implements EmotionalAgent.
func (s *Scripted) PerspectiveTake(_ context.Context, complaint string, _ *domain.ConversationTranscript) (string, error) {
	return "Imagine you had paid for a service and felt nobody was listening to you.", nil
}

// ResponseCues implements InformationalAgent.
func (s *Scripted) ResponseCues(_ context.Context, domainName, complaint string, _ *domain.ConversationTranscript) (string, error) {
	return "Acknowledge the " + domainName + " issue, apologize once, and offer a concrete next step.", nil
}

// ResolutionGuidance implements InformationalAgent.
func (s *Scripted) ResolutionGuidance(_ context.Context, domainName, complaint string, _ *domain.ConversationTranscript) (string, error) {
	return "Verify the booking, check the " + domainName + " policy, then offer compensation options.", nil
}

// Classify implements SentimentClassifier.
func (s *Scripted) Classify(_ context.Context, text string) (string, error) {
	return SentimentNegative, nil
}
