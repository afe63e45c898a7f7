package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avh-lab/repchat/internal/domain"
)

// fakeCompletions serves an OpenAI-style chat completions endpoint and
// records the last request for assertions.
type fakeCompletions struct {
	lastRequest chatCompletionRequest
	reply       string
	status      int
}

func (f *fakeCompletions) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.lastRequest); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.status != 0 && f.status != http.StatusOK {
			http.Error(w, "upstream error", f.status)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": f.reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestLLMClientOpeningComplaint(t *testing.T) {
	fake := &fakeCompletions{reply: "Client: My room was filthy when I arrived."}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewLLMClient(srv.URL, "test-key", "test-model", 5*time.Second)
	profile := &domain.ClientProfile{
		Round: 1, Name: "Maria N", Domain: "Hotel", Category: "Service Quality",
		Ranting: true, Expression: true,
	}

	got, err := c.OpeningComplaint(context.Background(), profile)
	if err != nil {
		t.Fatalf("OpeningComplaint failed: %v", err)
	}
	// The role prefix is stripped at this boundary.
	if got != "My room was filthy when I arrived." {
		t.Errorf("Unexpected complaint: %q", got)
	}
	if fake.lastRequest.Model != "test-model" {
		t.Errorf("Expected model test-model, got %q", fake.lastRequest.Model)
	}
	if len(fake.lastRequest.Messages) == 0 || fake.lastRequest.Messages[0].Role != "system" {
		t.Errorf("Expected a system message, got %+v", fake.lastRequest.Messages)
	}
}

func TestLLMClientReframeJSONMode(t *testing.T) {
	fake := &fakeCompletions{reply: `{"thought": "They are attacking me.", "reframe": "They are upset at the situation."}`}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewLLMClient(srv.URL, "", "test-model", 5*time.Second)
	got, err := c.ReframeEmotion(context.Background(), "the wifi never worked", nil)
	if err != nil {
		t.Fatalf("ReframeEmotion failed: %v", err)
	}
	if got.Thought == "" || got.Reframe == "" {
		t.Errorf("Incomplete reframe: %+v", got)
	}
	if fake.lastRequest.ResponseFormat["type"] != "json_object" {
		t.Errorf("Expected json_object response format, got %v", fake.lastRequest.ResponseFormat)
	}
}

func TestLLMClientUpstreamError(t *testing.T) {
	fake := &fakeCompletions{status: http.StatusBadGateway}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := NewLLMClient(srv.URL, "", "test-model", 5*time.Second)
	if _, err := c.Classify(context.Background(), "some text"); err == nil {
		t.Fatal("Expected error from upstream failure")
	}
}

func TestTranscriptMessagesRoles(t *testing.T) {
	tr := &domain.ConversationTranscript{}
	tr.Append(domain.SenderClient, domain.SenderRepresentative, "opening")
	tr.Append(domain.SenderRepresentative, domain.SenderClient, "response")

	msgs := transcriptMessages(tr)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	// Client lines were authored by the model.
	if msgs[0].Role != "assistant" || msgs[1].Role != "user" {
		t.Errorf("Unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
}
