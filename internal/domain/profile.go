package domain

import (
	"math/rand"
	"strings"
)

// ClientProfile describes the simulated client persona for one round.
// All fields are fixed at queue-build time except Info/Emo, which are
// rewritten in place on the round-2 profile once the condition is known.
type ClientProfile struct {
	Round      int    `json:"round"`
	Name       string `json:"name"`
	Domain     string `json:"domain"`
	Category   string `json:"category"`
	AvatarURL  string `json:"avatar_url"`
	Grateful   bool   `json:"grateful"`
	Ranting    bool   `json:"ranting"`
	Expression bool   `json:"expression"`
	Civil      bool   `json:"civil"`
	Info       bool   `json:"info"`
	Emo        bool   `json:"emo"`
}

// ApplyCondition rewrites only the agent-availability flags. Identity
// fields (name, domain, category) assigned at queue build are preserved.
func (p *ClientProfile) ApplyCondition(c Condition) {
	p.Info, p.Emo = c.AgentFlags()
}

// clientNames is the pool persona names are drawn from, without
// replacement across the two rounds.
var clientNames = []string{
	"Luis H", "Jamal K", "Maria N", "Elijah P", "Anna Z", "Samantha K",
}

// complaintCategories is drawn without replacement across rounds.
var complaintCategories = []string{
	"Service Quality",
	"Product Issues",
	"Pricing and Charges",
	"Policy",
	"Resolution",
}

const avatarBaseURL = "https://avatar.iran.liara.run/username?username="

// NewRoundQueue builds the two-round profile queue for a scenario
// ("Hotel" or "Airline"). Round 1 is always the unsupported baseline;
// round 2 starts provisionally with both agents and is corrected by
// ApplyCondition after condition assignment. Names and categories are
// shuffled so no draw repeats between the rounds.
func NewRoundQueue(scenario string, rng *rand.Rand) [2]*ClientProfile {
	names := append([]string(nil), clientNames...)
	categories := append([]string(nil), complaintCategories...)
	rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	rng.Shuffle(len(categories), func(i, j int) { categories[i], categories[j] = categories[j], categories[i] })

	var queue [2]*ClientProfile
	for i := range queue {
		queue[i] = &ClientProfile{
			Round:      i + 1,
			Name:       names[i],
			Domain:     scenario,
			Category:   categories[i],
			AvatarURL:  avatarBaseURL + strings.ReplaceAll(names[i], " ", "+"),
			Grateful:   false,
			Ranting:    true,
			Expression: true,
			Civil:      false,
		}
	}
	// Round 2 placeholder until the allocator picks the real condition.
	queue[1].ApplyCondition(ConditionBothAgents)
	return queue
}
