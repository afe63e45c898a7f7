// Package events provides the durable study event sink. Records are
// append-only audit data with at-least-once semantics: a failed write
// is logged and surfaced to metrics, but never fails the request that
// produced it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/avh-lab/repchat/internal/store"
	"github.com/google/uuid"
)

// Event categories, one per logical record type the study emits.
const (
	CategoryPreSurvey        = "pre_task_survey"
	CategoryPostRound1Survey = "post_round1_survey"
	CategoryPostTaskSurvey   = "post_task_survey"
	CategoryDemographics     = "demographics_survey"
	CategoryChatMessage      = "chat_message"
	CategoryAISuggestion     = "ai_suggestion"
	CategorySliderFeedback   = "slider_feedback"
	CategoryAttentionCheck   = "attention_check_failed"
	CategoryConditionAssign  = "condition_assigned"
	CategoryQuotaExhausted   = "quota_exhausted"
	CategoryRoundFinished    = "round_finished"
)

// Recorder is the event sink consumed by the state machine. Implementations
// must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, category, sessionID string, payload any)
}

// StoreRecorder persists events through the repository.
type StoreRecorder struct {
	repo   store.Repository
	logger *slog.Logger
}

// NewStoreRecorder creates a repository-backed recorder.
func NewStoreRecorder(repo store.Repository, logger *slog.Logger) *StoreRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreRecorder{repo: repo, logger: logger}
}

// Record marshals the payload and appends it with a UTC timestamp.
// Failures are logged; audit records do not gate control flow.
func (r *StoreRecorder) Record(ctx context.Context, category, sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to marshal event payload",
			"category", category, "session_id", sessionID, "error", err)
		return
	}
	rec := store.EventRecord{
		EventID:   uuid.NewString(),
		SessionID: sessionID,
		Category:  category,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.AppendEvent(ctx, rec); err != nil {
		r.logger.Error("failed to append event record",
			"category", category, "session_id", sessionID, "error", err)
	}
}

// NoopRecorder discards all events. Used when a handler is constructed
// without a sink.
type NoopRecorder struct{}

// Record implements Recorder.
func (NoopRecorder) Record(context.Context, string, string, any) {}
