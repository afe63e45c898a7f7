// Package study implements the protocol state machine that advances
// each participant through the fixed stage graph: pre-survey, round 1
// chat, post-round-1 survey, round 2 chat, post-task survey,
// demographics.
package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/avh-lab/repchat/internal/domain"
	"github.com/avh-lab/repchat/internal/events"
	"github.com/avh-lab/repchat/internal/metrics"
	"github.com/avh-lab/repchat/internal/quota"
	"github.com/avh-lab/repchat/internal/responder"
	"github.com/avh-lab/repchat/internal/session"
	"github.com/google/uuid"
)

// RepresentativeTurnLimit ends a round once the representative has sent
// this many messages, regardless of outstanding client replies.
const RepresentativeTurnLimit = 12

// Scenarios the study can run.
var validScenarios = map[string]bool{
	"Hotel":   true,
	"Airline": true,
}

// Engine is the study protocol state machine. All responders are
// injected as stateless capabilities so tests can substitute fakes.
type Engine struct {
	sessions  *session.Store
	allocator *quota.Allocator
	persona   responder.Persona
	emo       responder.EmotionalAgent
	info      responder.InformationalAgent
	sentiment responder.SentimentClassifier
	recorder  events.Recorder
	logger    *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Config bundles the engine's collaborators.
type Config struct {
	Sessions  *session.Store
	Allocator *quota.Allocator
	Persona   responder.Persona
	Emotional responder.EmotionalAgent
	Info      responder.InformationalAgent
	Sentiment responder.SentimentClassifier
	Recorder  events.Recorder
	Logger    *slog.Logger
	Rand      *rand.Rand
}

// NewEngine creates the state machine.
func NewEngine(cfg Config) *Engine {
	if cfg.Recorder == nil {
		cfg.Recorder = events.NoopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		sessions:  cfg.Sessions,
		allocator: cfg.Allocator,
		persona:   cfg.Persona,
		emo:       cfg.Emotional,
		info:      cfg.Info,
		sentiment: cfg.Sentiment,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
		rng:       cfg.Rand,
	}
}

// EnterStudy admits a participant. The global gate runs before any
// session exists: a saturated study turns the participant away without
// creating state. Otherwise both round profiles are built here, before
// subtype or condition are known.
func (e *Engine) EnterStudy(ctx context.Context, scenario string) (*domain.ParticipantSession, error) {
	if !validScenarios[scenario] {
		return nil, fmt.Errorf("%w: unknown scenario %q", domain.ErrMalformedSubmission, scenario)
	}

	full, err := e.allocator.IsFull(ctx)
	if err != nil {
		return nil, fmt.Errorf("admission gate: %w", err)
	}
	if full {
		metrics.StudyFullTurnaways.Inc()
		return nil, domain.ErrStudyFull
	}

	e.rngMu.Lock()
	queue := domain.NewRoundQueue(scenario, e.rng)
	e.rngMu.Unlock()

	sess := &domain.ParticipantSession{
		SessionID:     uuid.NewString(),
		Scenario:      scenario,
		Stage:         domain.StagePreSurvey,
		CurrentRound:  1,
		RoundQueue:    queue,
		ActiveProfile: queue[0],
		Conversations: make(map[string]*domain.ConversationTranscript),
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.sessions.Create(sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	e.logger.Info("participant admitted",
		"session_id", sess.SessionID, "scenario", scenario,
		"round1_client", queue[0].Name, "round2_client", queue[1].Name)
	return sess, nil
}

// PreSurveyResult reports the outcome of the pre-survey submission.
type PreSurveyResult struct {
	Condition     domain.Condition
	RedirectedOut bool
}

// SubmitPreSurvey records the pre-survey and resolves the condition.
// This is the single allocator invocation of a session's lifetime: a
// duplicate submission returns the already-assigned condition without
// touching the quota.
func (e *Engine) SubmitPreSurvey(ctx context.Context, sessionID string, sub PreSurveySubmission) (PreSurveyResult, error) {
	var result PreSurveyResult

	err := e.sessions.Mutate(sessionID, func(s *domain.ParticipantSession) error {
		if s.HasCondition() {
			result.Condition = s.AssignedCondition
			return nil
		}
		if s.Stage != domain.StagePreSurvey {
			return domain.ErrInvalidStage
		}

		cond, err := e.allocator.Assign(ctx, sub.Subtype)
		if errors.Is(err, domain.ErrQuotaExhausted) {
			s.Stage = domain.StageRedirectedOut
			s.Subtype = sub.Subtype
			s.RedirectReason = fmt.Sprintf("no conditions available for %s", sub.Subtype)
			result.RedirectedOut = true

			metrics.QuotaExhaustedRedirects.Inc()
			e.recorder.Record(ctx, events.CategoryQuotaExhausted, sessionID, map[string]any{
				"subtype":         sub.Subtype,
				"redirect_reason": s.RedirectReason,
			})
			e.recorder.Record(ctx, events.CategoryPreSurvey, sessionID, preSurveyPayload(sub, "", true, s.RedirectReason))
			return nil
		}
		if err != nil {
			return err
		}

		s.Subtype = sub.Subtype
		s.SuppressionScore = sub.SuppScore
		s.AssignedCondition = cond
		// Only the flags change; the round-2 profile keeps the name,
		// domain and category drawn at entry.
		s.RoundQueue[1].ApplyCondition(cond)
		s.Stage = domain.StageRound1Chat
		result.Condition = cond

		metrics.ConditionsAssigned.WithLabelValues(string(cond), string(sub.Subtype)).Inc()
		e.recorder.Record(ctx, events.CategoryConditionAssign, sessionID, map[string]any{
			"condition": cond,
			"subtype":   sub.Subtype,
		})
		e.recorder.Record(ctx, events.CategoryPreSurvey, sessionID, preSurveyPayload(sub, cond, false, ""))
		return nil
	})
	if err != nil {
		return PreSurveyResult{}, err
	}
	return result, nil
}

// RoundComplete reports which survey follows the just-finished round.
// It advances no state; the chat path already moved the stage when the
// round terminated.
func (e *Engine) RoundComplete(_ context.Context, sessionID string) (domain.Stage, error) {
	s, err := e.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	switch s.Stage {
	case domain.StagePostRound1Survey, domain.StagePostTaskSurvey:
		return s.Stage, nil
	default:
		return "", fmt.Errorf("%w: round not finished (stage %s)", domain.ErrInvalidStage, s.Stage)
	}
}

// SubmitPostRound1 records the post-round-1 survey and rolls the
// session into round 2. The rollover happens here and never on the chat
// path; replays cannot double-advance the round or pop the queue twice.
func (e *Engine) SubmitPostRound1(ctx context.Context, sessionID string, sub PostRound1Submission) error {
	return e.sessions.Mutate(sessionID, func(s *domain.ParticipantSession) error {
		if s.CurrentRound == 2 {
			return nil
		}
		if s.Stage != domain.StagePostRound1Survey {
			return domain.ErrInvalidStage
		}

		e.recorder.Record(ctx, events.CategoryPostRound1Survey, sessionID, postRound1Payload(sub))

		s.CurrentRound = 2
		if !s.QueuePopped {
			s.ActiveProfile = s.RoundQueue[1]
			s.QueuePopped = true
		} else {
			// Defensive recovery path: keep the last active profile so
			// the participant is not failed mid-study.
			e.logger.Warn("round queue already consumed at rollover, reusing active profile",
				"session_id", sessionID)
		}
		s.Stage = domain.StageRound2Chat

		e.logger.Info("session rolled into round 2",
			"session_id", sessionID, "client", s.ActiveProfile.Name,
			"info", s.ActiveProfile.Info, "emo", s.ActiveProfile.Emo)
		return nil
	})
}

// SubmitPostTask records the post-task survey (reverse-scored fields
// already negated by the parser) and advances to demographics.
func (e *Engine) SubmitPostTask(ctx context.Context, sessionID string, sub PostTaskSubmission) error {
	return e.sessions.Mutate(sessionID, func(s *domain.ParticipantSession) error {
		if s.Stage == domain.StageDemographics {
			return nil
		}
		if s.Stage != domain.StagePostTaskSurvey {
			return domain.ErrInvalidStage
		}

		e.recorder.Record(ctx, events.CategoryPostTaskSurvey, sessionID, postTaskPayload(sub, s))
		s.Stage = domain.StageDemographics
		return nil
	})
}

// SubmitDemographics records the final survey and completes the session.
func (e *Engine) SubmitDemographics(ctx context.Context, sessionID string, sub DemographicsSubmission) error {
	return e.sessions.Mutate(sessionID, func(s *domain.ParticipantSession) error {
		if s.Stage != domain.StageDemographics {
			return domain.ErrInvalidStage
		}

		e.recorder.Record(ctx, events.CategoryDemographics, sessionID, demographicsPayload(sub, s))
		s.Stage = domain.StageComplete

		e.logger.Info("session complete", "session_id", sessionID,
			"condition", s.AssignedCondition, "subtype", s.Subtype)
		return nil
	})
}

// AttentionCheckFailed records a failed attention check.
func (e *Engine) AttentionCheckFailed(ctx context.Context, sessionID, failedItem, reason string) error {
	if _, err := e.sessions.Get(sessionID); err != nil {
		return err
	}
	e.recorder.Record(ctx, events.CategoryAttentionCheck, sessionID, map[string]any{
		"failed_check": failedItem,
		"reason":       reason,
	})
	return nil
}

// Session exposes a snapshot of the session for rendering. Changes made
// to it are never written back.
func (e *Engine) Session(sessionID string) (*domain.ParticipantSession, error) {
	return e.sessions.Get(sessionID)
}
