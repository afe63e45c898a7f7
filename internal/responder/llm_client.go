package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avh-lab/repchat/internal/domain"
)

// LLMClient implements every responder capability against an
// OpenAI-compatible chat completions endpoint.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewLLMClient creates a chat completions client.
func NewLLMClient(baseURL, apiKey, model string, timeout time.Duration) *LLMClient {
	return &LLMClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	MaxTokens      *int              `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *LLMClient) complete(ctx context.Context, messages []chatMessage, jsonOutput bool) (string, error) {
	temp := 0.7
	req := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: &temp,
	}
	if jsonOutput {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// transcriptMessages converts a transcript into chat messages from the
// persona's point of view: client messages were authored by the model,
// representative messages by the human.
func transcriptMessages(t *domain.ConversationTranscript) []chatMessage {
	if t == nil {
		return nil
	}
	out := make([]chatMessage, 0, len(t.Messages))
	for _, m := range t.Messages {
		role := "user"
		if m.Sender == domain.SenderClient {
			role = "assistant"
		}
		out = append(out, chatMessage{Role: role, Content: m.Content})
	}
	return out
}

// transcriptText renders a transcript as labeled lines for the support
// agents, which see the conversation as context rather than as their
// own dialogue.
func transcriptText(t *domain.ConversationTranscript) string {
	if t == nil || len(t.Messages) == 0 {
		return "(no messages yet)"
	}
	var b strings.Builder
	for _, m := range t.Messages {
		if m.Sender == domain.SenderClient {
			b.WriteString("Client: ")
		} else {
			b.WriteString("Representative: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// OpeningComplaint implements Persona.
func (c *LLMClient) OpeningComplaint(ctx context.Context, profile *domain.ClientProfile) (string, error) {
	prompt := openingComplaintPrompt(profile)
	reply, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: personaSystemPrompt},
		{Role: "user", Content: prompt},
	}, false)
	if err != nil {
		return "", err
	}
	return Sanitize(reply), nil
}

// Reply implements Persona.
func (c *LLMClient) Reply(ctx context.Context, transcript *domain.ConversationTranscript, input string, civil bool) (string, error) {
	messages := []chatMessage{{Role: "system", Content: replySystemPrompt(civil)}}
	messages = append(messages, transcriptMessages(transcript)...)
	messages = append(messages, chatMessage{Role: "user", Content: input})

	reply, err := c.complete(ctx, messages, false)
	if err != nil {
		return "", err
	}
	return Sanitize(reply), nil
}

// ReframeEmotion implements EmotionalAgent.
func (c *LLMClient) ReframeEmotion(ctx context.Context, complaint string, transcript *domain.ConversationTranscript) (Reframe, error) {
	reply, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: reframeSystemPrompt},
		{Role: "user", Content: "Conversation so far:\n" + transcriptText(transcript) + "\nLatest complaint:\n" + complaint},
	}, true)
	if err != nil {
		return Reframe{}, err
	}
	var out Reframe
	if err := json.Unmarshal([]byte(reply), &out); err != nil {
		return Reframe{}, fmt.Errorf("decode reframe output: %w", err)
	}
	out.Thought = strings.TrimSpace(out.Thought)
	out.Reframe = strings.TrimSpace(out.Reframe)
	return out, nil
}

// PerspectiveTake implements EmotionalAgent.
func (c *LLMClient) PerspectiveTake(ctx context.Context, complaint string, transcript *domain.ConversationTranscript) (string, error) {
	reply, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: perspectiveSystemPrompt},
		{Role: "user", Content: "Conversation so far:\n" + transcriptText(transcript) + "\nLatest complaint:\n" + complaint},
	}, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// ResponseCues implements InformationalAgent.
func (c *LLMClient) ResponseCues(ctx context.Context, domainName, complaint string, transcript *domain.ConversationTranscript) (string, error) {
	reply, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: infoCueSystemPrompt(domainName)},
		{Role: "user", Content: "Conversation so far:\n" + transcriptText(transcript) + "\nLatest client message:\n" + complaint},
	}, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// ResolutionGuidance implements InformationalAgent.
func (c *LLMClient) ResolutionGuidance(ctx context.Context, domainName, complaint string, transcript *domain.ConversationTranscript) (string, error) {
	reply, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: guidanceSystemPrompt(domainName)},
		{Role: "user", Content: "Conversation so far:\n" + transcriptText(transcript) + "\nLatest client message:\n" + complaint},
	}, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// Classify implements SentimentClassifier.
func (c *LLMClient) Classify(ctx context.Context, text string) (string, error) {
	reply, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: sentimentSystemPrompt},
		{Role: "user", Content: text},
	}, false)
	if err != nil {
		return "", err
	}
	return normalizeSentiment(reply), nil
}
