package responder

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "The room was dirty.", "The room was dirty."},
		{"whitespace", "  hello \n", "hello"},
		{"client prefix", "Client: The room was dirty.", "The room was dirty."},
		{"customer prefix", "Customer: I want a refund.", "I want a refund."},
		{"representative prefix", "Representative: We apologize.", "We apologize."},
		{"lowercase prefix", "client: still broken", "still broken"},
		{"stacked prefixes all stripped", "Client: Customer: hi", "hi"},
		{"repeated same prefix", "Client: Client: hi", "hi"},
		{"prefix mid-sentence untouched", "I told the Client: nothing", "I told the Client: nothing"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsFinish(t *testing.T) {
	if !IsFinish("FINISH:0") || !IsFinish(FinishSentinel) {
		t.Error("Expected FINISH-prefixed replies to be sentinels")
	}
	if IsFinish("We are finished here.") {
		t.Error("Prose mentioning finish is not a sentinel")
	}
}
