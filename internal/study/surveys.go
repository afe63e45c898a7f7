package study

import (
	"fmt"
	"strconv"

	"github.com/avh-lab/repchat/internal/domain"
)

// PreSurveySubmission is the typed pre-task survey payload. Subtype is
// derived client-side from the suppression instrument and validated
// here.
type PreSurveySubmission struct {
	Subtype   domain.Subtype
	SuppScore float64
	Items     map[string]int
}

// PostRound1Submission is the survey between the rounds. The attention
// check answer stays categorical; every other field is an integer item.
type PostRound1Submission struct {
	AttentionCheck string
	Items          map[string]int
}

// PostTaskSubmission is the final task survey. Reverse-scored fields
// have already been negated by the parser.
type PostTaskSubmission struct {
	ConversationID string
	Items          map[string]int
}

// DemographicsSubmission closes out the protocol.
type DemographicsSubmission struct {
	GenAIFamiliarity int
	GenAIAttitude    int
	Fields           map[string]string
}

// reverseScoredFields are negated on intake so stored values share one
// direction with the rest of the instrument.
var reverseScoredFields = map[string]bool{
	"support_effective":     true,
	"support_helpful":       true,
	"support_beneficial":    true,
	"support_adequate":      true,
	"support_sensitive":     true,
	"support_caring":        true,
	"support_understanding": true,
	"support_supportive":    true,
}

// ParsePreSurvey validates and types a raw pre-survey payload. Browsers
// submit form values as strings, so numbers are accepted in either
// representation.
func ParsePreSurvey(raw map[string]any) (PreSurveySubmission, error) {
	if len(raw) == 0 {
		return PreSurveySubmission{}, fmt.Errorf("%w: empty pre-survey payload", domain.ErrMalformedSubmission)
	}

	subtypeRaw, ok := raw["emotion_regulation_type"].(string)
	if !ok {
		return PreSurveySubmission{}, fmt.Errorf("%w: missing emotion_regulation_type", domain.ErrMalformedSubmission)
	}
	subtype := domain.Subtype(subtypeRaw)
	if !subtype.Valid() {
		return PreSurveySubmission{}, fmt.Errorf("%w: unknown subtype %q", domain.ErrMalformedSubmission, subtypeRaw)
	}

	score, err := floatField(raw, "supp_score")
	if err != nil {
		return PreSurveySubmission{}, err
	}

	items := make(map[string]int)
	for k, v := range raw {
		switch k {
		case "emotion_regulation_type", "supp_score", "client_param":
			continue
		}
		n, err := intValue(k, v)
		if err != nil {
			return PreSurveySubmission{}, err
		}
		items[k] = n
	}

	return PreSurveySubmission{Subtype: subtype, SuppScore: score, Items: items}, nil
}

// ParsePostRound1 validates and types the between-rounds survey.
func ParsePostRound1(raw map[string]any) (PostRound1Submission, error) {
	if len(raw) == 0 {
		return PostRound1Submission{}, fmt.Errorf("%w: empty post-round-1 payload", domain.ErrMalformedSubmission)
	}

	attention, _ := raw["attention_check"].(string)
	items := make(map[string]int)
	for k, v := range raw {
		if k == "attention_check" {
			continue
		}
		n, err := intValue(k, v)
		if err != nil {
			return PostRound1Submission{}, err
		}
		items[k] = n
	}
	return PostRound1Submission{AttentionCheck: attention, Items: items}, nil
}

// ParsePostTask validates and types the post-task survey, negating the
// reverse-scored support fields.
func ParsePostTask(raw map[string]any) (PostTaskSubmission, error) {
	if len(raw) == 0 {
		return PostTaskSubmission{}, fmt.Errorf("%w: empty post-task payload", domain.ErrMalformedSubmission)
	}

	conversationID, _ := raw["client_id"].(string)
	items := make(map[string]int)
	for k, v := range raw {
		if k == "client_id" {
			continue
		}
		n, err := intValue(k, v)
		if err != nil {
			return PostTaskSubmission{}, err
		}
		if reverseScoredFields[k] {
			n = -n
		}
		items[k] = n
	}
	return PostTaskSubmission{ConversationID: conversationID, Items: items}, nil
}

// ParseDemographics validates and types the demographics survey.
func ParseDemographics(raw map[string]any) (DemographicsSubmission, error) {
	if len(raw) == 0 {
		return DemographicsSubmission{}, fmt.Errorf("%w: empty demographics payload", domain.ErrMalformedSubmission)
	}

	sub := DemographicsSubmission{Fields: make(map[string]string)}
	for k, v := range raw {
		switch k {
		case "genai_familiarity":
			n, err := intValue(k, v)
			if err != nil {
				return DemographicsSubmission{}, err
			}
			sub.GenAIFamiliarity = n
		case "genai_attitude":
			n, err := intValue(k, v)
			if err != nil {
				return DemographicsSubmission{}, err
			}
			sub.GenAIAttitude = n
		default:
			sub.Fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return sub, nil
}

// intValue accepts JSON numbers and the string-encoded numbers that
// form submissions produce.
func intValue(field string, v any) (int, error) {
	switch x := v.(type) {
	case float64:
		return int(x), nil
	case int:
		return x, nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("%w: field %q is not an integer", domain.ErrMalformedSubmission, field)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: field %q has unsupported type", domain.ErrMalformedSubmission, field)
	}
}

func floatField(raw map[string]any, field string) (float64, error) {
	v, ok := raw[field]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", domain.ErrMalformedSubmission, field)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: field %q is not a number", domain.ErrMalformedSubmission, field)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: field %q has unsupported type", domain.ErrMalformedSubmission, field)
	}
}

// Event payload builders. Each record is self-describing: the sink adds
// session_id and the UTC timestamp.

func preSurveyPayload(sub PreSurveySubmission, cond domain.Condition, redirected bool, reason string) map[string]any {
	payload := map[string]any{
		"emotion_regulation_type": sub.Subtype,
		"supp_score":              sub.SuppScore,
		"items":                   sub.Items,
	}
	if redirected {
		payload["redirected_out"] = true
		payload["redirect_reason"] = reason
	} else {
		payload["assigned_condition"] = cond
	}
	return payload
}

func postRound1Payload(sub PostRound1Submission) map[string]any {
	return map[string]any{
		"attention_check": sub.AttentionCheck,
		"items":           sub.Items,
	}
}

func postTaskPayload(sub PostTaskSubmission, s *domain.ParticipantSession) map[string]any {
	return map[string]any{
		"client_id":               sub.ConversationID,
		"items":                   sub.Items,
		"condition":               s.AssignedCondition,
		"emotion_regulation_type": s.Subtype,
		"supp_score":              s.SuppressionScore,
	}
}

func demographicsPayload(sub DemographicsSubmission, s *domain.ParticipantSession) map[string]any {
	return map[string]any{
		"genai_familiarity":       sub.GenAIFamiliarity,
		"genai_attitude":          sub.GenAIAttitude,
		"fields":                  sub.Fields,
		"condition":               s.AssignedCondition,
		"emotion_regulation_type": s.Subtype,
	}
}
