// Package domain contains core domain types for the representative-client study.
package domain

import "errors"

// Stage identifies where a participant is in the study protocol.
type Stage string

const (
	StagePreSurvey        Stage = "PRE_SURVEY"
	StageRound1Chat       Stage = "ROUND_1_CHAT"
	StagePostRound1Survey Stage = "POST_ROUND_1_SURVEY"
	StageRound2Chat       Stage = "ROUND_2_CHAT"
	StagePostTaskSurvey   Stage = "POST_TASK_SURVEY"
	StageDemographics     Stage = "DEMOGRAPHICS"
	StageComplete         Stage = "COMPLETE"
	StageRedirectedOut    Stage = "REDIRECTED_OUT"
)

// Terminal returns true for stages after which no mutation is allowed.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageRedirectedOut
}

// Subtype is the participant's emotion regulation classification,
// determined by the pre-task survey and fixed for the whole session.
type Subtype string

const (
	SubtypeSuppressor    Subtype = "Suppressor"
	SubtypeNonSuppressor Subtype = "NonSuppressor"
)

// Subtypes lists all participant subtypes.
var Subtypes = []Subtype{SubtypeSuppressor, SubtypeNonSuppressor}

// Valid reports whether the subtype is one of the known values.
func (t Subtype) Valid() bool {
	return t == SubtypeSuppressor || t == SubtypeNonSuppressor
}

// Condition is one of the four experimental arms controlling which
// support agents are offered in round 2.
type Condition string

const (
	ConditionNoAgents   Condition = "no_agents"
	ConditionEmoOnly    Condition = "emo_only"
	ConditionInfoOnly   Condition = "info_only"
	ConditionBothAgents Condition = "both_agents"
)

// Conditions lists all experimental conditions.
var Conditions = []Condition{
	ConditionNoAgents,
	ConditionEmoOnly,
	ConditionInfoOnly,
	ConditionBothAgents,
}

// AgentFlags returns whether the informational and emotional support
// agents are offered under this condition.
func (c Condition) AgentFlags() (info bool, emo bool) {
	switch c {
	case ConditionEmoOnly:
		return false, true
	case ConditionInfoOnly:
		return true, false
	case ConditionBothAgents:
		return true, true
	default:
		return false, false
	}
}

var (
	// ErrInvalidSession is returned when an operation references an
	// unknown or already terminal session.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrInvalidStage is returned when an operation is not legal for
	// the session's current stage.
	ErrInvalidStage = errors.New("operation not valid for current stage")

	// ErrQuotaExhausted means no condition has remaining capacity for
	// the participant's subtype. This is a defined study outcome, not a
	// failure.
	ErrQuotaExhausted = errors.New("no conditions available for subtype")

	// ErrStudyFull means every quota cell is at capacity; no new
	// sessions are admitted.
	ErrStudyFull = errors.New("study at full capacity")

	// ErrMalformedSubmission is returned when required survey or chat
	// fields are missing or of the wrong type.
	ErrMalformedSubmission = errors.New("malformed submission")

	// ErrUnknownConversation is returned when a chat operation names a
	// conversation the session does not have.
	ErrUnknownConversation = errors.New("unknown conversation")
)
