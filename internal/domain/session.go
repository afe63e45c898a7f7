package domain

import "time"

// ParticipantSession is the typed aggregate holding everything known
// about one participant's progress through the protocol. It is owned by
// the participant's browser session and mutated only under the session
// store's per-session lock.
type ParticipantSession struct {
	SessionID string
	Scenario  string
	Stage     Stage
	// CurrentRound is 1 through the post-round-1 survey and becomes 2
	// exactly once, at the rollover into round 2. It never regresses.
	CurrentRound int

	// Subtype and AssignedCondition are each set exactly once, by the
	// pre-survey submission, and are immutable afterwards.
	Subtype           Subtype
	SuppressionScore  float64
	AssignedCondition Condition

	// RoundQueue holds both client profiles, built at entry. Index 0 is
	// the round-1 baseline; index 1 is the round-2 profile whose
	// info/emo flags are rewritten once the condition is assigned.
	RoundQueue    [2]*ClientProfile
	ActiveProfile *ClientProfile
	// queuePopped records that the round-2 profile was already consumed,
	// so a replayed post-round-1 submission cannot pop twice.
	QueuePopped bool

	Conversations map[string]*ConversationTranscript

	CreatedAt      time.Time
	RedirectReason string
}

// Clone returns a deep copy of the session: profiles, queue and
// transcripts are all duplicated, so the copy shares no mutable state
// with the original.
func (s *ParticipantSession) Clone() *ParticipantSession {
	c := *s
	for i, p := range s.RoundQueue {
		if p == nil {
			continue
		}
		cp := *p
		c.RoundQueue[i] = &cp
		if s.ActiveProfile == p {
			c.ActiveProfile = c.RoundQueue[i]
		}
	}
	if c.ActiveProfile == s.ActiveProfile && s.ActiveProfile != nil {
		cp := *s.ActiveProfile
		c.ActiveProfile = &cp
	}
	c.Conversations = make(map[string]*ConversationTranscript, len(s.Conversations))
	for id, t := range s.Conversations {
		c.Conversations[id] = t.Clone()
	}
	return &c
}

// HasCondition reports whether the allocator already ran for this
// session. Guards against re-invocation on duplicate submissions.
func (s *ParticipantSession) HasCondition() bool {
	return s.AssignedCondition != ""
}

// Conversation returns the transcript for the given conversation ID.
func (s *ParticipantSession) Conversation(id string) (*ConversationTranscript, error) {
	t, ok := s.Conversations[id]
	if !ok {
		return nil, ErrUnknownConversation
	}
	return t, nil
}

// ActiveConversation returns the transcript for the current round, or
// nil if the round's conversation has not started yet.
func (s *ParticipantSession) ActiveConversation() *ConversationTranscript {
	for _, t := range s.Conversations {
		if t.Round == s.CurrentRound {
			return t
		}
	}
	return nil
}
