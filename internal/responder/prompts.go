package responder

import (
	"fmt"
	"strings"

	"github.com/avh-lab/repchat/internal/domain"
)

const personaSystemPrompt = `
You are role-playing a customer of a service company who is lodging a
complaint with a customer service representative over chat.

Rules:
- Stay in character as the customer for the entire conversation.
- Write one chat message at a time, 1-3 sentences.
- Do NOT prefix your message with a role label such as "Client:".
- Never mention that you are an AI or part of a study.
- If the representative has fully resolved your complaint and you have
  nothing left to say, respond with exactly FINISH:0 and nothing else.
`

func openingComplaintPrompt(p *domain.ClientProfile) string {
	return fmt.Sprintf(`Write your first complaint message to the representative.

Complaint parameters:
- Company type: %s
- Complaint category: %s
- You are %s
- You are %s
- You are %s`,
		p.Domain, p.Category,
		describe(p.Grateful, "grateful", "NOT grateful"),
		describe(p.Ranting, "ranting", "NOT ranting"),
		describe(p.Expression, "expressive", "NOT expressive"))
}

func replySystemPrompt(civil bool) string {
	tone := "You are upset and blunt. You may be curt or sarcastic, but never abusive."
	if civil {
		tone = "You are firm but polite and civil throughout."
	}
	return personaSystemPrompt + "\nTone for this conversation: " + tone
}

const reframeSystemPrompt = `
You coach a customer service representative on managing their emotions
during a difficult complaint conversation.

Respond with a JSON object with exactly two string fields:
- "thought": what the representative might be thinking or feeling right now
- "reframe": a healthier way to reframe that thought

Keep each field to one or two sentences. Output JSON only.
`

const perspectiveSystemPrompt = `
You coach a customer service representative on empathy. Given the
client's latest complaint, describe in second person ("Imagine you...")
what the situation likely feels like from the client's side. Two to
three sentences, no preamble.
`

func infoCueSystemPrompt(domainName string) string {
	return fmt.Sprintf(`
You assist a customer service representative handling a %s complaint.
Suggest concrete content for their next reply: what to acknowledge,
what to offer, and what to ask. Two to four short bullet points.
`, domainName)
}

func guidanceSystemPrompt(domainName string) string {
	return fmt.Sprintf(`
You assist a customer service representative handling a %s complaint.
Outline the resolution process for this kind of issue: the steps the
representative can take and in what order. Three short bullet points.
`, domainName)
}

// Sentiment categories reported to the representative.
const (
	SentimentNegative = "Negative"
	SentimentNeutral  = "Neutral"
	SentimentPositive = "Positive"
)

const sentimentSystemPrompt = `
Classify the sentiment of the customer message as exactly one word:
Negative, Neutral, or Positive. Output only that word.
`

// normalizeSentiment collapses model output to one of the three
// categories, defaulting to Neutral on anything unrecognized.
func normalizeSentiment(reply string) string {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "negative":
		return SentimentNegative
	case "positive":
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

func describe(flag bool, yes, no string) string {
	if flag {
		return yes
	}
	return no
}
