package study

import (
	"context"
	"fmt"
	"strconv"

	"github.com/avh-lab/repchat/internal/domain"
	"github.com/avh-lab/repchat/internal/events"
	"github.com/avh-lab/repchat/internal/metrics"
	"github.com/avh-lab/repchat/internal/responder"
	"github.com/google/uuid"
)

// ConversationStart is returned when a round's conversation begins.
type ConversationStart struct {
	ConversationID string                `json:"conversation_id"`
	Message        string                `json:"message"`
	TurnNumber     int                   `json:"turn_number"`
	Profile        *domain.ClientProfile `json:"profile"`
	Round          int                   `json:"round"`
}

// ReplyResult is returned for each representative message.
type ReplyResult struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	TurnNumber     int    `json:"turn_number"`
	Finished       bool   `json:"finished"`
}

// StartConversation lazily creates the current round's conversation and
// obtains the client's opening complaint. Calling it again for the same
// round returns the existing conversation rather than opening a second.
func (e *Engine) StartConversation(ctx context.Context, sessionID string) (ConversationStart, error) {
	var result ConversationStart

	err := e.sessions.Mutate(sessionID, func(s *domain.ParticipantSession) error {
		if s.Stage != domain.StageRound1Chat && s.Stage != domain.StageRound2Chat {
			return domain.ErrInvalidStage
		}

		if t := s.ActiveConversation(); t != nil {
			if len(t.Messages) == 0 {
				return fmt.Errorf("conversation %s has no opening message", t.ConversationID)
			}
			result = ConversationStart{
				ConversationID: t.ConversationID,
				Message:        t.Messages[0].Content,
				TurnNumber:     t.Messages[0].TurnNumber,
				Profile:        s.ActiveProfile,
				Round:          t.Round,
			}
			return nil
		}

		opening, err := e.persona.OpeningComplaint(ctx, s.ActiveProfile)
		if err != nil {
			metrics.ResponderFailures.WithLabelValues("persona_opening").Inc()
			return fmt.Errorf("persona opening complaint: %w", err)
		}
		opening = responder.Sanitize(opening)

		t := &domain.ConversationTranscript{
			ConversationID: uuid.NewString(),
			Round:          s.CurrentRound,
		}
		msg := t.Append(domain.SenderClient, domain.SenderRepresentative, opening)
		s.Conversations[t.ConversationID] = t

		e.recordChatMessage(ctx, s, t, msg)

		result = ConversationStart{
			ConversationID: t.ConversationID,
			Message:        opening,
			TurnNumber:     msg.TurnNumber,
			Profile:        s.ActiveProfile,
			Round:          t.Round,
		}
		return nil
	})
	if err != nil {
		return ConversationStart{}, err
	}
	return result, nil
}

// SendMessage appends the representative's message and obtains the
// client's reply. The 12-message cap is enforced here, server side: at
// the cap the persona is not invoked and the sentinel is returned. The
// persona may also end the round early with its own FINISH sentinel.
// On responder failure nothing is appended, so the caller can retry.
func (e *Engine) SendMessage(ctx context.Context, sessionID, conversationID, text string) (ReplyResult, error) {
	if text == "" {
		return ReplyResult{}, fmt.Errorf("%w: empty message", domain.ErrMalformedSubmission)
	}

	var result ReplyResult
	err := e.sessions.Mutate(sessionID, func(s *domain.ParticipantSession) error {
		if s.Stage != domain.StageRound1Chat && s.Stage != domain.StageRound2Chat {
			return domain.ErrInvalidStage
		}
		t, err := s.Conversation(conversationID)
		if err != nil {
			return err
		}
		if t.Finished {
			result = ReplyResult{ConversationID: conversationID, Message: responder.FinishSentinel, TurnNumber: t.CurrentTurn(), Finished: true}
			return nil
		}

		if t.RepresentativeCount()+1 >= RepresentativeTurnLimit {
			msg := t.Append(domain.SenderRepresentative, domain.SenderClient, text)
			e.recordChatMessage(ctx, s, t, msg)
			e.finishRound(ctx, s, t, "turn_limit")
			result = ReplyResult{ConversationID: conversationID, Message: responder.FinishSentinel, TurnNumber: msg.TurnNumber, Finished: true}
			return nil
		}

		reply, err := e.persona.Reply(ctx, t, text, s.ActiveProfile.Civil)
		if err != nil {
			metrics.ResponderFailures.WithLabelValues("persona_reply").Inc()
			return fmt.Errorf("persona reply: %w", err)
		}
		reply = responder.Sanitize(reply)

		repMsg := t.Append(domain.SenderRepresentative, domain.SenderClient, text)
		e.recordChatMessage(ctx, s, t, repMsg)

		if responder.IsFinish(reply) {
			// Early termination: the sentinel is a control signal, not
			// dialogue, and is not appended to the transcript.
			e.finishRound(ctx, s, t, "persona_sentinel")
			result = ReplyResult{ConversationID: conversationID, Message: reply, TurnNumber: repMsg.TurnNumber, Finished: true}
			return nil
		}

		clientMsg := t.Append(domain.SenderClient, domain.SenderRepresentative, reply)
		e.recordChatMessage(ctx, s, t, clientMsg)

		result = ReplyResult{ConversationID: conversationID, Message: reply, TurnNumber: clientMsg.TurnNumber}
		return nil
	})
	if err != nil {
		return ReplyResult{}, err
	}
	return result, nil
}

// Transcript returns a snapshot of a conversation's transcript for
// history views.
func (e *Engine) Transcript(sessionID, conversationID string) (*domain.ConversationTranscript, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.Conversation(conversationID)
}

// finishRound marks the transcript finished and moves the session to
// the survey that follows the round. Called with the session lock held.
func (e *Engine) finishRound(ctx context.Context, s *domain.ParticipantSession, t *domain.ConversationTranscript, reason string) {
	t.Finished = true
	if s.CurrentRound == 1 {
		s.Stage = domain.StagePostRound1Survey
	} else {
		s.Stage = domain.StagePostTaskSurvey
	}

	metrics.RoundsCompleted.WithLabelValues(strconv.Itoa(s.CurrentRound)).Inc()
	e.recorder.Record(ctx, events.CategoryRoundFinished, s.SessionID, map[string]any{
		"conversation_id":      t.ConversationID,
		"round":                s.CurrentRound,
		"reason":               reason,
		"representative_count": t.RepresentativeCount(),
	})
	e.logger.Info("round finished", "session_id", s.SessionID,
		"round", s.CurrentRound, "reason", reason)
}

func (e *Engine) recordChatMessage(ctx context.Context, s *domain.ParticipantSession, t *domain.ConversationTranscript, msg domain.TranscriptMessage) {
	e.recorder.Record(ctx, events.CategoryChatMessage, s.SessionID, map[string]any{
		"conversation_id": t.ConversationID,
		"round":           t.Round,
		"turn_number":     msg.TurnNumber,
		"sender":          msg.Sender,
		"receiver":        msg.Receiver,
		"message":         msg.Content,
	})
}
