package domain

import "time"

// Sender identifies who authored a transcript message.
type Sender string

const (
	SenderClient         Sender = "client"
	SenderRepresentative Sender = "representative"
)

// TranscriptMessage is one entry in a conversation transcript.
type TranscriptMessage struct {
	Sender     Sender    `json:"sender"`
	Receiver   Sender    `json:"receiver"`
	Content    string    `json:"content"`
	TurnNumber int       `json:"turn_number"`
	SentAt     time.Time `json:"sent_at"`
}

// ConversationTranscript is the append-only message log for one round's
// conversation. Turn numbering: the opening client message is turn 1;
// each subsequent representative message and the client reply answering
// it share the next turn index.
type ConversationTranscript struct {
	ConversationID string              `json:"conversation_id"`
	Round          int                 `json:"round"`
	Messages       []TranscriptMessage `json:"messages"`
	Finished       bool                `json:"finished"`
}

// Append assigns the next turn number and appends the message. The turn
// of the i-th message (0-based) is (i+1)/2 + 1, yielding 1, 2, 2, 3, 3, ...
func (t *ConversationTranscript) Append(sender, receiver Sender, content string) TranscriptMessage {
	i := len(t.Messages)
	msg := TranscriptMessage{
		Sender:     sender,
		Receiver:   receiver,
		Content:    content,
		TurnNumber: (i+1)/2 + 1,
		SentAt:     time.Now().UTC(),
	}
	t.Messages = append(t.Messages, msg)
	return msg
}

// Clone returns a deep copy of the transcript. Appends to the original
// never reach the copy.
func (t *ConversationTranscript) Clone() *ConversationTranscript {
	c := *t
	c.Messages = append([]TranscriptMessage(nil), t.Messages...)
	return &c
}

// RepresentativeCount counts representative-authored messages. Derived
// from the transcript itself so it cannot drift from the log.
func (t *ConversationTranscript) RepresentativeCount() int {
	n := 0
	for _, m := range t.Messages {
		if m.Sender == SenderRepresentative {
			n++
		}
	}
	return n
}

// CurrentTurn is the turn index of the most recent exchange, the value
// suggestions and slider feedback are recorded against.
func (t *ConversationTranscript) CurrentTurn() int {
	return len(t.Messages)/2 + 1
}
