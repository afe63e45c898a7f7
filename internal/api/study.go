package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avh-lab/repchat/internal/domain"
	"github.com/avh-lab/repchat/internal/quota"
	"github.com/avh-lab/repchat/internal/store"
	"github.com/avh-lab/repchat/internal/study"
)

// StudyHandler exposes the participant-facing study flow over HTTP.
type StudyHandler struct {
	*Handler
	engine    *study.Engine
	allocator *quota.Allocator
	repo      store.Repository
}

// NewStudyHandler creates a study handler around the engine.
func NewStudyHandler(base *Handler, engine *study.Engine, allocator *quota.Allocator, repo store.Repository) *StudyHandler {
	return &StudyHandler{Handler: base, engine: engine, allocator: allocator, repo: repo}
}

// RegisterRoutes registers the study flow routes.
func (h *StudyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/study/{scenario}", h.Enter)
		r.Get("/quota", h.QuotaCounts)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.SessionState)
			r.Post("/pre-survey", h.PreSurvey)
			r.Get("/round-complete", h.RoundComplete)
			r.Post("/post-round1-survey", h.PostRound1Survey)
			r.Post("/post-task-survey", h.PostTaskSurvey)
			r.Post("/demographics", h.Demographics)
			r.Post("/attention-check", h.AttentionCheck)
			r.Get("/events", h.Events)

			r.Get("/clients", h.Clients)
			r.Post("/conversation", h.StartConversation)
			r.Post("/conversations/{conversationID}/messages", h.SendMessage)
			r.Get("/conversations/{conversationID}/history", h.History)

			r.Get("/support/labels", h.SupportLabels)
			r.Post("/support/emotional", h.EmoSupport)
			r.Post("/support/informational", h.InfoSupport)
			r.Post("/support/trouble", h.TroubleSupport)
			r.Post("/support/sentiment", h.Sentiment)
			r.Post("/feedback", h.SliderFeedback)
		})
	})
}

// Enter admits a participant into the study for a scenario. When every
// quota cell is at capacity the participant is turned away with a
// study_full status instead of a session.
func (h *StudyHandler) Enter(w http.ResponseWriter, r *http.Request) {
	scenario := chi.URLParam(r, "scenario")

	s, err := h.engine.EnterStudy(r.Context(), scenario)
	if err != nil {
		if errors.Is(err, domain.ErrStudyFull) {
			JSON(w, http.StatusOK, map[string]string{
				"status":       "study_full",
				"redirect_url": h.frontendRedirectURL,
			})
			return
		}
		if errors.Is(err, domain.ErrMalformedSubmission) {
			Error(w, http.StatusBadRequest, "unknown scenario")
			return
		}
		DomainError(w, err)
		return
	}

	JSON(w, http.StatusCreated, map[string]interface{}{
		"status":     "ok",
		"session_id": s.SessionID,
		"scenario":   s.Scenario,
		"stage":      s.Stage,
		"round":      s.CurrentRound,
	})
}

// SessionState returns the participant's current stage and round plus
// the active client profile, letting a reloaded page resume.
func (h *StudyHandler) SessionState(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}

	resp := map[string]interface{}{
		"session_id": s.SessionID,
		"scenario":   s.Scenario,
		"stage":      s.Stage,
		"round":      s.CurrentRound,
	}
	if s.HasCondition() {
		resp["condition"] = s.AssignedCondition
		resp["subtype"] = s.Subtype
	}
	if s.ActiveProfile != nil {
		resp["profile"] = s.ActiveProfile
	}
	if s.RedirectReason != "" {
		resp["redirect_reason"] = s.RedirectReason
	}
	JSON(w, http.StatusOK, resp)
}

// PreSurvey records the pre-task survey and assigns the experimental
// condition. A subtype with no remaining capacity redirects the
// participant out of the study.
func (h *StudyHandler) PreSurvey(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := decodeBody(w, r, &raw); err != nil {
		return
	}

	sub, err := study.ParsePreSurvey(raw)
	if err != nil {
		DomainError(w, err)
		return
	}

	result, err := h.engine.SubmitPreSurvey(r.Context(), chi.URLParam(r, "sessionID"), sub)
	if err != nil {
		DomainError(w, err)
		return
	}

	if result.RedirectedOut {
		JSON(w, http.StatusOK, map[string]string{
			"status":       "redirect",
			"reason":       "condition_full",
			"redirect_url": h.frontendRedirectURL,
		})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"condition": result.Condition,
	})
}

// Clients returns the client personas revealed so far: every profile up
// to and including the current round. The round-2 profile stays hidden
// until the rollover so its agent flags cannot leak early.
func (h *StudyHandler) Clients(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}

	clients := make([]*domain.ClientProfile, 0, len(s.RoundQueue))
	for _, p := range s.RoundQueue {
		if p.Round <= s.CurrentRound {
			clients = append(clients, p)
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"round":   s.CurrentRound,
		"clients": clients,
	})
}

// StartConversation opens (or resumes) the current round's chat and
// returns the client's opening complaint.
func (h *StudyHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	start, err := h.engine.StartConversation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, start)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage relays a representative message and returns the client's
// reply, or the finish sentinel once the round is over.
func (h *StudyHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	result, err := h.engine.SendMessage(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "conversationID"), req.Message)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// History returns the full transcript of a conversation, oldest first.
func (h *StudyHandler) History(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Transcript(chi.URLParam(r, "sessionID"), chi.URLParam(r, "conversationID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": t.ConversationID,
		"round":           t.Round,
		"finished":        t.Finished,
		"messages":        t.Messages,
	})
}

// RoundComplete reports which survey follows the round that just
// finished.
func (h *StudyHandler) RoundComplete(w http.ResponseWriter, r *http.Request) {
	next, err := h.engine.RoundComplete(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"next_stage": next})
}

// PostRound1Survey records the mid-task survey and rolls the session
// into round 2.
func (h *StudyHandler) PostRound1Survey(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := decodeBody(w, r, &raw); err != nil {
		return
	}

	sub, err := study.ParsePostRound1(raw)
	if err != nil {
		DomainError(w, err)
		return
	}
	if err := h.engine.SubmitPostRound1(r.Context(), chi.URLParam(r, "sessionID"), sub); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PostTaskSurvey records the post-task survey after round 2.
func (h *StudyHandler) PostTaskSurvey(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := decodeBody(w, r, &raw); err != nil {
		return
	}

	sub, err := study.ParsePostTask(raw)
	if err != nil {
		DomainError(w, err)
		return
	}
	if err := h.engine.SubmitPostTask(r.Context(), chi.URLParam(r, "sessionID"), sub); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Demographics records the demographics survey and completes the
// session.
func (h *StudyHandler) Demographics(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := decodeBody(w, r, &raw); err != nil {
		return
	}

	sub, err := study.ParseDemographics(raw)
	if err != nil {
		DomainError(w, err)
		return
	}
	if err := h.engine.SubmitDemographics(r.Context(), chi.URLParam(r, "sessionID"), sub); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "complete"})
}

// Events returns the session's durable event trail, oldest first,
// optionally filtered by category. The session must exist; the trail
// itself may outlive the in-memory session.
func (h *StudyHandler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.engine.Session(sessionID); err != nil {
		DomainError(w, err)
		return
	}

	records, err := h.repo.EventsBySession(r.Context(), sessionID, r.URL.Query().Get("category"))
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"events":     records,
	})
}

type attentionCheckRequest struct {
	FailedItem string `json:"failed_item"`
	Reason     string `json:"reason"`
}

// AttentionCheck records a failed attention check for later exclusion.
func (h *StudyHandler) AttentionCheck(w http.ResponseWriter, r *http.Request) {
	var req attentionCheckRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	if err := h.engine.AttentionCheckFailed(r.Context(), chi.URLParam(r, "sessionID"), req.FailedItem, req.Reason); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type supportRequest struct {
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	ClientReply    string `json:"client_reply"`
}

// EmoSupport serves the emotional support agent.
func (h *StudyHandler) EmoSupport(w http.ResponseWriter, r *http.Request) {
	var req supportRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	result, err := h.engine.EmoSupport(r.Context(), chi.URLParam(r, "sessionID"), req.ConversationID, req.Type, req.ClientReply)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// InfoSupport serves the informational agent's response cues.
func (h *StudyHandler) InfoSupport(w http.ResponseWriter, r *http.Request) {
	h.textSupport(w, r, h.engine.InfoSupport)
}

// TroubleSupport serves the informational agent's resolution guidance.
func (h *StudyHandler) TroubleSupport(w http.ResponseWriter, r *http.Request) {
	h.textSupport(w, r, h.engine.TroubleSupport)
}

// Sentiment classifies the latest client message.
func (h *StudyHandler) Sentiment(w http.ResponseWriter, r *http.Request) {
	var req supportRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	sentiment, err := h.engine.Sentiment(r.Context(), chi.URLParam(r, "sessionID"), req.ConversationID, req.ClientReply)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"sentiment": sentiment})
}

// textSupport handles the two informational agent endpoints, which
// differ only in the engine call they make.
func (h *StudyHandler) textSupport(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, sessionID, conversationID, clientReply string) (string, error)) {
	var req supportRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	content, err := fn(r.Context(), chi.URLParam(r, "sessionID"), req.ConversationID, req.ClientReply)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"content": content})
}

// SupportLabels returns the display labels for the support panels
// visible in the session's assigned condition.
func (h *StudyHandler) SupportLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.engine.SupportLabels(chi.URLParam(r, "sessionID"))
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"labels": labels})
}

type feedbackRequest struct {
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
	Rate           int    `json:"rate"`
}

// SliderFeedback records a 0-100 usefulness rating for a suggestion.
func (h *StudyHandler) SliderFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	if err := h.engine.SliderFeedback(r.Context(), chi.URLParam(r, "sessionID"), req.ConversationID, req.Type, req.Rate); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QuotaCounts returns the per-cell assignment counts, an operator view
// of how full the study is.
func (h *StudyHandler) QuotaCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.allocator.Counts(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	full, err := h.allocator.IsFull(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"capacity_per_cell": h.allocator.Capacity(),
		"counts":            counts,
		"full":              full,
	})
}
