package study

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/avh-lab/repchat/internal/domain"
	"github.com/avh-lab/repchat/internal/events"
	"github.com/avh-lab/repchat/internal/quota"
	"github.com/avh-lab/repchat/internal/responder"
	"github.com/avh-lab/repchat/internal/session"
	"github.com/avh-lab/repchat/internal/store"
)

// memRepo is an in-memory Repository for engine tests.
type memRepo struct {
	mu    sync.Mutex
	quota domain.Quota
}

func newMemRepo() *memRepo {
	return &memRepo{quota: domain.NewQuota()}
}

func (m *memRepo) LoadQuota(ctx context.Context) (domain.Quota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quota.Clone(), nil
}

func (m *memRepo) SaveQuota(ctx context.Context, q domain.Quota) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = q.Clone()
	return nil
}

func (m *memRepo) AppendEvent(ctx context.Context, rec store.EventRecord) error { return nil }

func (m *memRepo) EventsBySession(ctx context.Context, sessionID, category string) ([]store.EventRecord, error) {
	return nil, nil
}

func (m *memRepo) Ping(ctx context.Context) error { return nil }
func (m *memRepo) Close() error                   { return nil }

// captureRecorder keeps recorded events in memory for assertions.
type captureRecorder struct {
	mu      sync.Mutex
	entries []capturedEvent
}

type capturedEvent struct {
	Category  string
	SessionID string
	Payload   map[string]any
}

func (r *captureRecorder) Record(_ context.Context, category, sessionID string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := payload.(map[string]any)
	r.entries = append(r.entries, capturedEvent{Category: category, SessionID: sessionID, Payload: p})
}

func (r *captureRecorder) byCategory(category string) []capturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []capturedEvent
	for _, e := range r.entries {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// failingPersona always errors so retry behavior can be observed.
type failingPersona struct{ responder.Scripted }

func (failingPersona) Reply(context.Context, *domain.ConversationTranscript, string, bool) (string, error) {
	return "", errors.New("upstream unavailable")
}

func newTestEngine(repo *memRepo, scripted *responder.Scripted, rec events.Recorder) *Engine {
	return NewEngine(Config{
		Sessions:  session.NewStore(),
		Allocator: quota.New(repo, 4, rand.New(rand.NewSource(1)), nil),
		Persona:   scripted,
		Emotional: scripted,
		Info:      scripted,
		Sentiment: scripted,
		Recorder:  rec,
		Rand:      rand.New(rand.NewSource(1)),
	})
}

// forceCondition fills every cell for the subtype except the one
// condition the test wants assigned.
func forceCondition(repo *memRepo, subtype domain.Subtype, want domain.Condition) {
	for _, c := range domain.Conditions {
		if c != want {
			repo.quota[c][subtype] = 4
		}
	}
}

func validPreSurvey(subtype domain.Subtype) PreSurveySubmission {
	return PreSurveySubmission{
		Subtype:   subtype,
		SuppScore: 5.25,
		Items:     map[string]int{"reappraisal_1": 4},
	}
}

func playRound(t *testing.T, e *Engine, sessionID string) ConversationStart {
	t.Helper()
	start, err := e.StartConversation(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	for i := 0; i < RepresentativeTurnLimit; i++ {
		result, err := e.SendMessage(context.Background(), sessionID, start.ConversationID, "Let me look into that for you.")
		if err != nil {
			t.Fatalf("SendMessage %d failed: %v", i, err)
		}
		if result.Finished {
			return start
		}
	}
	t.Fatal("round never finished")
	return start
}

func TestFullStudyLifecycle(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionBothAgents)
	rec := &captureRecorder{}
	scripted := &responder.Scripted{FinishAfter: 3}
	e := newTestEngine(repo, scripted, rec)
	ctx := context.Background()

	s, err := e.EnterStudy(ctx, "Hotel")
	if err != nil {
		t.Fatalf("EnterStudy failed: %v", err)
	}
	if s.Stage != domain.StagePreSurvey || s.CurrentRound != 1 {
		t.Fatalf("Unexpected initial state: stage=%s round=%d", s.Stage, s.CurrentRound)
	}
	r1 := s.ActiveProfile
	if r1.Info || r1.Emo || r1.Grateful || !r1.Ranting {
		t.Errorf("Round-1 profile is not the baseline: %+v", r1)
	}

	result, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor))
	if err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	if result.RedirectedOut {
		t.Fatal("Unexpected redirect")
	}
	if result.Condition != domain.ConditionBothAgents {
		t.Fatalf("Expected both_agents, got %s", result.Condition)
	}

	// Round 1: the baseline client, no support agents.
	start := playRound(t, e, s.SessionID)
	if start.Round != 1 || start.TurnNumber != 1 {
		t.Errorf("Unexpected round-1 start: round=%d turn=%d", start.Round, start.TurnNumber)
	}

	next, err := e.RoundComplete(ctx, s.SessionID)
	if err != nil || next != domain.StagePostRound1Survey {
		t.Fatalf("RoundComplete: got %s, %v", next, err)
	}

	err = e.SubmitPostRound1(ctx, s.SessionID, PostRound1Submission{Items: map[string]int{"stress": 3}})
	if err != nil {
		t.Fatalf("SubmitPostRound1 failed: %v", err)
	}

	got, _ := e.Session(s.SessionID)
	if got.CurrentRound != 2 || got.Stage != domain.StageRound2Chat {
		t.Fatalf("Rollover failed: round=%d stage=%s", got.CurrentRound, got.Stage)
	}
	if !got.ActiveProfile.Info || !got.ActiveProfile.Emo {
		t.Errorf("Round-2 profile missing assigned agents: %+v", got.ActiveProfile)
	}
	if got.ActiveProfile.Name == r1.Name {
		t.Error("Round-2 client reuses the round-1 name")
	}

	// Round 2: support agents are live under both_agents.
	start2, err := e.StartConversation(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("Round-2 StartConversation failed: %v", err)
	}
	emo, err := e.EmoSupport(ctx, s.SessionID, start2.ConversationID, SupportEmoReframe, start2.Message)
	if err != nil {
		t.Fatalf("EmoSupport failed: %v", err)
	}
	if emo.Thought == "" || emo.Reframe == "" {
		t.Errorf("Reframe output incomplete: %+v", emo)
	}
	if _, err := e.InfoSupport(ctx, s.SessionID, start2.ConversationID, start2.Message); err != nil {
		t.Fatalf("InfoSupport failed: %v", err)
	}
	if _, err := e.Sentiment(ctx, s.SessionID, start2.ConversationID, start2.Message); err != nil {
		t.Fatalf("Sentiment failed: %v", err)
	}
	if err := e.SliderFeedback(ctx, s.SessionID, start2.ConversationID, SupportEmoReframe, 80); err != nil {
		t.Fatalf("SliderFeedback failed: %v", err)
	}

	for {
		result, err := e.SendMessage(ctx, s.SessionID, start2.ConversationID, "I understand, let me fix this.")
		if err != nil {
			t.Fatalf("Round-2 SendMessage failed: %v", err)
		}
		if result.Finished {
			break
		}
	}

	next, err = e.RoundComplete(ctx, s.SessionID)
	if err != nil || next != domain.StagePostTaskSurvey {
		t.Fatalf("RoundComplete after round 2: got %s, %v", next, err)
	}

	err = e.SubmitPostTask(ctx, s.SessionID, PostTaskSubmission{
		ConversationID: start2.ConversationID,
		Items:          map[string]int{"support_helpful": -4},
	})
	if err != nil {
		t.Fatalf("SubmitPostTask failed: %v", err)
	}
	err = e.SubmitDemographics(ctx, s.SessionID, DemographicsSubmission{
		GenAIFamiliarity: 4,
		GenAIAttitude:    5,
		Fields:           map[string]string{"age": "25-34"},
	})
	if err != nil {
		t.Fatalf("SubmitDemographics failed: %v", err)
	}

	got, _ = e.Session(s.SessionID)
	if got.Stage != domain.StageComplete {
		t.Fatalf("Expected COMPLETE, got %s", got.Stage)
	}

	// Terminal sessions reject further mutation.
	err = e.SubmitDemographics(ctx, s.SessionID, DemographicsSubmission{})
	if !errors.Is(err, domain.ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession after completion, got %v", err)
	}

	// Event trail covers both rounds and all surveys.
	if n := len(rec.byCategory(events.CategoryRoundFinished)); n != 2 {
		t.Errorf("Expected 2 round_finished events, got %d", n)
	}
	for _, cat := range []string{
		events.CategoryPreSurvey, events.CategoryPostRound1Survey,
		events.CategoryPostTaskSurvey, events.CategoryDemographics,
		events.CategoryConditionAssign, events.CategoryAISuggestion,
		events.CategorySliderFeedback, events.CategoryChatMessage,
	} {
		if len(rec.byCategory(cat)) == 0 {
			t.Errorf("Expected at least one %s event", cat)
		}
	}
}

func TestTurnLimitSentinel(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeNonSuppressor, domain.ConditionNoAgents)
	e := newTestEngine(repo, &responder.Scripted{}, nil)
	ctx := context.Background()

	s, err := e.EnterStudy(ctx, "Airline")
	if err != nil {
		t.Fatalf("EnterStudy failed: %v", err)
	}
	if _, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeNonSuppressor)); err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	start, err := e.StartConversation(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	var last ReplyResult
	sends := 0
	for !last.Finished {
		sends++
		last, err = e.SendMessage(ctx, s.SessionID, start.ConversationID, "We are working on it.")
		if err != nil {
			t.Fatalf("SendMessage %d failed: %v", sends, err)
		}
	}

	if sends != RepresentativeTurnLimit {
		t.Errorf("Expected round to end on send %d, got %d", RepresentativeTurnLimit, sends)
	}
	if last.Message != responder.FinishSentinel {
		t.Errorf("Expected %q, got %q", responder.FinishSentinel, last.Message)
	}

	tr, err := e.Transcript(s.SessionID, start.ConversationID)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if !tr.Finished {
		t.Error("Transcript not marked finished")
	}
	if got := tr.RepresentativeCount(); got != RepresentativeTurnLimit {
		t.Errorf("Expected %d representative messages, got %d", RepresentativeTurnLimit, got)
	}
	// The sentinel is a control signal and never enters the transcript.
	for _, m := range tr.Messages {
		if responder.IsFinish(m.Content) {
			t.Errorf("Sentinel leaked into transcript: %q", m.Content)
		}
	}

	// The stage moved on, so further sends are rejected.
	if _, err := e.SendMessage(ctx, s.SessionID, start.ConversationID, "hello?"); !errors.Is(err, domain.ErrInvalidStage) {
		t.Errorf("Expected ErrInvalidStage after round end, got %v", err)
	}
}

func TestDuplicatePreSurveyDoesNotReallocate(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionEmoOnly)
	e := newTestEngine(repo, &responder.Scripted{}, nil)
	ctx := context.Background()

	s, err := e.EnterStudy(ctx, "Hotel")
	if err != nil {
		t.Fatalf("EnterStudy failed: %v", err)
	}

	first, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor))
	if err != nil {
		t.Fatalf("First submission failed: %v", err)
	}
	second, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor))
	if err != nil {
		t.Fatalf("Replayed submission failed: %v", err)
	}

	if first.Condition != second.Condition {
		t.Errorf("Replay changed condition: %s then %s", first.Condition, second.Condition)
	}
	if got := repo.quota[domain.ConditionEmoOnly][domain.SubtypeSuppressor]; got != 1 {
		t.Errorf("Expected a single quota increment, got %d", got)
	}
}

func TestPreSurveyQuotaExhaustedRedirects(t *testing.T) {
	repo := newMemRepo()
	for _, c := range domain.Conditions {
		repo.quota[c][domain.SubtypeSuppressor] = 4
	}
	rec := &captureRecorder{}
	e := newTestEngine(repo, &responder.Scripted{}, rec)
	ctx := context.Background()

	s, err := e.EnterStudy(ctx, "Hotel")
	if err != nil {
		t.Fatalf("EnterStudy failed: %v", err)
	}

	result, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor))
	if err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	if !result.RedirectedOut {
		t.Fatal("Expected redirect for exhausted subtype")
	}

	got, _ := e.Session(s.SessionID)
	if got.Stage != domain.StageRedirectedOut {
		t.Errorf("Expected REDIRECTED_OUT, got %s", got.Stage)
	}
	if len(rec.byCategory(events.CategoryQuotaExhausted)) != 1 {
		t.Error("Expected a quota_exhausted event")
	}

	// The redirected session is terminal.
	if _, err := e.StartConversation(ctx, s.SessionID); !errors.Is(err, domain.ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession, got %v", err)
	}
}

func TestEnterStudyFull(t *testing.T) {
	repo := newMemRepo()
	for _, c := range domain.Conditions {
		for _, sub := range domain.Subtypes {
			repo.quota[c][sub] = 4
		}
	}
	e := newTestEngine(repo, &responder.Scripted{}, nil)

	if _, err := e.EnterStudy(context.Background(), "Hotel"); !errors.Is(err, domain.ErrStudyFull) {
		t.Fatalf("Expected ErrStudyFull, got %v", err)
	}
}

func TestEnterStudyUnknownScenario(t *testing.T) {
	e := newTestEngine(newMemRepo(), &responder.Scripted{}, nil)
	if _, err := e.EnterStudy(context.Background(), "Restaurant"); !errors.Is(err, domain.ErrMalformedSubmission) {
		t.Fatalf("Expected ErrMalformedSubmission, got %v", err)
	}
}

func TestStartConversationIdempotent(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionNoAgents)
	e := newTestEngine(repo, &responder.Scripted{}, nil)
	ctx := context.Background()

	s, _ := e.EnterStudy(ctx, "Hotel")
	if _, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor)); err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}

	first, err := e.StartConversation(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("First start failed: %v", err)
	}
	second, err := e.StartConversation(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Errorf("Expected same conversation, got %s and %s", first.ConversationID, second.ConversationID)
	}
	if first.Message != second.Message {
		t.Errorf("Opening message changed on replay")
	}
}

func TestSupportGatedByCondition(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionNoAgents)
	e := newTestEngine(repo, &responder.Scripted{}, nil)
	ctx := context.Background()

	s, _ := e.EnterStudy(ctx, "Hotel")
	if _, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor)); err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	start, err := e.StartConversation(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	// Round 1 is always unsupported.
	if _, err := e.EmoSupport(ctx, s.SessionID, start.ConversationID, SupportEmoShoes, "x"); !errors.Is(err, domain.ErrInvalidStage) {
		t.Errorf("Expected emotional support rejection, got %v", err)
	}
	if _, err := e.InfoSupport(ctx, s.SessionID, start.ConversationID, "x"); !errors.Is(err, domain.ErrInvalidStage) {
		t.Errorf("Expected informational support rejection, got %v", err)
	}
	// Sentiment is available in every condition.
	if _, err := e.Sentiment(ctx, s.SessionID, start.ConversationID, "x"); err != nil {
		t.Errorf("Sentiment should be available: %v", err)
	}

	labels, err := e.SupportLabels(s.SessionID)
	if err != nil {
		t.Fatalf("SupportLabels failed: %v", err)
	}
	if len(labels) != 1 || labels[SupportSentiment] == "" {
		t.Errorf("Expected only the sentiment label, got %v", labels)
	}
}

func TestSendMessageValidation(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionNoAgents)
	e := newTestEngine(repo, &responder.Scripted{}, nil)
	ctx := context.Background()

	s, _ := e.EnterStudy(ctx, "Hotel")
	if _, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor)); err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	start, _ := e.StartConversation(ctx, s.SessionID)

	if _, err := e.SendMessage(ctx, s.SessionID, start.ConversationID, ""); !errors.Is(err, domain.ErrMalformedSubmission) {
		t.Errorf("Expected ErrMalformedSubmission for empty message, got %v", err)
	}
	if _, err := e.SendMessage(ctx, s.SessionID, "nope", "hi"); !errors.Is(err, domain.ErrUnknownConversation) {
		t.Errorf("Expected ErrUnknownConversation, got %v", err)
	}
}

func TestSendMessageRetrySafeOnPersonaFailure(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionNoAgents)
	failing := &failingPersona{}
	e := NewEngine(Config{
		Sessions:  session.NewStore(),
		Allocator: quota.New(repo, 4, rand.New(rand.NewSource(1)), nil),
		Persona:   failing,
		Emotional: &failing.Scripted,
		Info:      &failing.Scripted,
		Sentiment: &failing.Scripted,
		Rand:      rand.New(rand.NewSource(1)),
	})
	ctx := context.Background()

	s, _ := e.EnterStudy(ctx, "Hotel")
	if _, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor)); err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	start, err := e.StartConversation(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	if _, err := e.SendMessage(ctx, s.SessionID, start.ConversationID, "hello"); err == nil {
		t.Fatal("Expected persona failure to propagate")
	}

	// Nothing was appended; the send can be retried cleanly.
	tr, _ := e.Transcript(s.SessionID, start.ConversationID)
	if len(tr.Messages) != 1 {
		t.Errorf("Expected only the opening message, got %d messages", len(tr.Messages))
	}
}

func TestSliderFeedbackValidation(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionNoAgents)
	e := newTestEngine(repo, &responder.Scripted{}, nil)
	ctx := context.Background()

	s, _ := e.EnterStudy(ctx, "Hotel")
	if _, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor)); err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	start, _ := e.StartConversation(ctx, s.SessionID)

	if err := e.SliderFeedback(ctx, s.SessionID, start.ConversationID, SupportSentiment, 101); !errors.Is(err, domain.ErrMalformedSubmission) {
		t.Errorf("Expected range rejection, got %v", err)
	}
	if err := e.SliderFeedback(ctx, s.SessionID, start.ConversationID, "TYPE_BOGUS", 50); !errors.Is(err, domain.ErrMalformedSubmission) {
		t.Errorf("Expected unknown-type rejection, got %v", err)
	}
	if err := e.SliderFeedback(ctx, s.SessionID, start.ConversationID, SupportSentiment, 0); err != nil {
		t.Errorf("Boundary rating 0 should be accepted: %v", err)
	}
}

func TestConcurrentReadsDuringChat(t *testing.T) {
	repo := newMemRepo()
	forceCondition(repo, domain.SubtypeSuppressor, domain.ConditionBothAgents)
	e := newTestEngine(repo, &responder.Scripted{}, nil)
	ctx := context.Background()

	s, err := e.EnterStudy(ctx, "Hotel")
	if err != nil {
		t.Fatalf("EnterStudy failed: %v", err)
	}
	if _, err := e.SubmitPreSurvey(ctx, s.SessionID, validPreSurvey(domain.SubtypeSuppressor)); err != nil {
		t.Fatalf("SubmitPreSurvey failed: %v", err)
	}
	start, err := e.StartConversation(ctx, s.SessionID)
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	// History, state and label reads racing a message stream on the
	// same session must never observe a transcript mid-append.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr, err := e.Transcript(s.SessionID, start.ConversationID)
				if err != nil {
					t.Errorf("Transcript failed: %v", err)
					return
				}
				if tr.RepresentativeCount() > RepresentativeTurnLimit {
					t.Errorf("Representative count exceeded limit: %d", tr.RepresentativeCount())
					return
				}
				for _, m := range tr.Messages {
					if m.Content == "" {
						t.Error("Observed an empty transcript message")
						return
					}
				}
				if _, err := e.Session(s.SessionID); err != nil {
					t.Errorf("Session failed: %v", err)
					return
				}
				if _, err := e.SupportLabels(s.SessionID); err != nil {
					t.Errorf("SupportLabels failed: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 8; i++ {
		if _, err := e.SendMessage(ctx, s.SessionID, start.ConversationID, "Let me check on that."); err != nil {
			t.Fatalf("SendMessage %d failed: %v", i, err)
		}
	}
	wg.Wait()
}
