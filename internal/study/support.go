package study

import (
	"context"
	"fmt"

	"github.com/avh-lab/repchat/internal/domain"
	"github.com/avh-lab/repchat/internal/events"
	"github.com/avh-lab/repchat/internal/metrics"
)

// Support type identifiers and the labels the presentation layer shows
// for them.
const (
	SupportEmoThought = "TYPE_EMO_THOUGHT"
	SupportEmoShoes   = "TYPE_EMO_SHOES"
	SupportEmoReframe = "TYPE_EMO_REFRAME"
	SupportSentiment  = "TYPE_SENTIMENT"
	SupportInfoCue    = "TYPE_INFO_CUE"
	SupportInfoGuide  = "TYPE_INFO_GUIDE"
)

// SupportTypeLabels maps support type identifiers to display strings.
var SupportTypeLabels = map[string]string{
	SupportEmoThought: "You might be thinking",
	SupportEmoShoes:   "Put Yourself in the Client's Shoes",
	SupportEmoReframe: "Be Mindful of Your Emotions",
	SupportSentiment:  "Client's Sentiment",
	SupportInfoCue:    "Response Suggestions",
	SupportInfoGuide:  "Guidance for Complaint Resolution",
}

// EmoSupportResult carries emotional support output. For
// SupportEmoReframe both Thought and Reframe are set; for
// SupportEmoShoes only Content is.
type EmoSupportResult struct {
	Thought string `json:"thought,omitempty"`
	Reframe string `json:"reframe,omitempty"`
	Content string `json:"content,omitempty"`
}

// EmoSupport generates emotional support content for the
// representative. Only available when the active profile's emo flag is
// set for the round.
func (e *Engine) EmoSupport(ctx context.Context, sessionID, conversationID, supportType, clientReply string) (EmoSupportResult, error) {
	s, t, err := e.supportContext(sessionID, conversationID)
	if err != nil {
		return EmoSupportResult{}, err
	}
	if !s.ActiveProfile.Emo {
		return EmoSupportResult{}, fmt.Errorf("%w: emotional support not offered this round", domain.ErrInvalidStage)
	}

	turn := t.CurrentTurn()
	switch supportType {
	case SupportEmoReframe:
		out, err := e.emo.ReframeEmotion(ctx, clientReply, t)
		if err != nil {
			metrics.ResponderFailures.WithLabelValues("emo_reframe").Inc()
			return EmoSupportResult{}, fmt.Errorf("reframe agent: %w", err)
		}
		e.recordSuggestion(ctx, s, t, turn, SupportEmoThought, out.Thought)
		e.recordSuggestion(ctx, s, t, turn, SupportEmoReframe, out.Reframe)
		return EmoSupportResult{Thought: out.Thought, Reframe: out.Reframe}, nil

	case SupportEmoShoes:
		content, err := e.emo.PerspectiveTake(ctx, clientReply, t)
		if err != nil {
			metrics.ResponderFailures.WithLabelValues("emo_shoes").Inc()
			return EmoSupportResult{}, fmt.Errorf("perspective agent: %w", err)
		}
		e.recordSuggestion(ctx, s, t, turn, SupportEmoShoes, content)
		return EmoSupportResult{Content: content}, nil

	default:
		return EmoSupportResult{}, fmt.Errorf("%w: unknown emotional support type %q", domain.ErrMalformedSubmission, supportType)
	}
}

// InfoSupport generates response cue suggestions. Only available when
// the active profile's info flag is set for the round.
func (e *Engine) InfoSupport(ctx context.Context, sessionID, conversationID, clientReply string) (string, error) {
	s, t, err := e.supportContext(sessionID, conversationID)
	if err != nil {
		return "", err
	}
	if !s.ActiveProfile.Info {
		return "", fmt.Errorf("%w: informational support not offered this round", domain.ErrInvalidStage)
	}

	content, err := e.info.ResponseCues(ctx, s.ActiveProfile.Domain, clientReply, t)
	if err != nil {
		metrics.ResponderFailures.WithLabelValues("info_cue").Inc()
		return "", fmt.Errorf("info agent: %w", err)
	}
	e.recordSuggestion(ctx, s, t, t.CurrentTurn(), SupportInfoCue, content)
	return content, nil
}

// TroubleSupport generates complaint-resolution guidance.
func (e *Engine) TroubleSupport(ctx context.Context, sessionID, conversationID, clientReply string) (string, error) {
	s, t, err := e.supportContext(sessionID, conversationID)
	if err != nil {
		return "", err
	}
	if !s.ActiveProfile.Info {
		return "", fmt.Errorf("%w: informational support not offered this round", domain.ErrInvalidStage)
	}

	content, err := e.info.ResolutionGuidance(ctx, s.ActiveProfile.Domain, clientReply, t)
	if err != nil {
		metrics.ResponderFailures.WithLabelValues("info_guide").Inc()
		return "", fmt.Errorf("trouble agent: %w", err)
	}
	e.recordSuggestion(ctx, s, t, t.CurrentTurn(), SupportInfoGuide, content)
	return content, nil
}

// Sentiment classifies the client's latest reply.
func (e *Engine) Sentiment(ctx context.Context, sessionID, conversationID, clientReply string) (string, error) {
	s, t, err := e.supportContext(sessionID, conversationID)
	if err != nil {
		return "", err
	}

	category, err := e.sentiment.Classify(ctx, clientReply)
	if err != nil {
		metrics.ResponderFailures.WithLabelValues("sentiment").Inc()
		return "", fmt.Errorf("sentiment classifier: %w", err)
	}
	e.recordSuggestion(ctx, s, t, t.CurrentTurn(), SupportSentiment, category)
	return category, nil
}

// SliderFeedback records the representative's 0-100 rating of a
// suggestion.
func (e *Engine) SliderFeedback(ctx context.Context, sessionID, conversationID, supportType string, rating int) error {
	if rating < 0 || rating > 100 {
		return fmt.Errorf("%w: rating %d out of range", domain.ErrMalformedSubmission, rating)
	}
	if _, ok := SupportTypeLabels[supportType]; !ok {
		return fmt.Errorf("%w: unknown support type %q", domain.ErrMalformedSubmission, supportType)
	}

	s, t, err := e.supportContext(sessionID, conversationID)
	if err != nil {
		return err
	}
	e.recorder.Record(ctx, events.CategorySliderFeedback, s.SessionID, map[string]any{
		"conversation_id": t.ConversationID,
		"round":           s.CurrentRound,
		"turn_number":     t.CurrentTurn(),
		"support_type":    supportType,
		"slider_value":    rating,
	})
	return nil
}

// SupportLabels returns the label strings for whichever support agents
// are offered by the active profile.
func (e *Engine) SupportLabels(sessionID string) (map[string]string, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string)
	labels[SupportSentiment] = SupportTypeLabels[SupportSentiment]
	if s.ActiveProfile.Emo {
		labels[SupportEmoThought] = SupportTypeLabels[SupportEmoThought]
		labels[SupportEmoShoes] = SupportTypeLabels[SupportEmoShoes]
		labels[SupportEmoReframe] = SupportTypeLabels[SupportEmoReframe]
	}
	if s.ActiveProfile.Info {
		labels[SupportInfoCue] = SupportTypeLabels[SupportInfoCue]
		labels[SupportInfoGuide] = SupportTypeLabels[SupportInfoGuide]
	}
	return labels, nil
}

// supportContext resolves a session and conversation for a support
// call, which is valid only during a chat stage.
func (e *Engine) supportContext(sessionID, conversationID string) (*domain.ParticipantSession, *domain.ConversationTranscript, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if s.Stage != domain.StageRound1Chat && s.Stage != domain.StageRound2Chat {
		return nil, nil, domain.ErrInvalidStage
	}
	t, err := s.Conversation(conversationID)
	if err != nil {
		return nil, nil, err
	}
	return s, t, nil
}

func (e *Engine) recordSuggestion(ctx context.Context, s *domain.ParticipantSession, t *domain.ConversationTranscript, turn int, supportType, content string) {
	e.recorder.Record(ctx, events.CategoryAISuggestion, s.SessionID, map[string]any{
		"conversation_id": t.ConversationID,
		"round":           s.CurrentRound,
		"turn_number":     turn,
		"support_type":    supportType,
		"support_content": content,
	})
}
