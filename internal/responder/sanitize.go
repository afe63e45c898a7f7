package responder

import "strings"

// rolePrefixes are labels the model sometimes prepends to its output
// despite instructions. Stripping them is a known normalization
// contract at this boundary, not state machine logic.
var rolePrefixes = []string{
	"Client:", "Customer:", "Representative:",
	"client:", "customer:", "representative:",
}

// Sanitize trims whitespace and strips leading role labels, repeating
// until none remain: models occasionally stack them ("Client: Customer: ...").
func Sanitize(reply string) string {
	reply = strings.TrimSpace(reply)
	for {
		stripped := false
		for _, prefix := range rolePrefixes {
			if strings.HasPrefix(reply, prefix) {
				reply = strings.TrimSpace(strings.TrimPrefix(reply, prefix))
				stripped = true
			}
		}
		if !stripped {
			return reply
		}
	}
}
