package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the current phase of a learning session's state machine.
type SessionState string

const (
	StateExplanation         SessionState = "explanation"
	StateComprehensionCheck  SessionState = "comprehension_check"
	StateEvaluation          SessionState = "evaluation"
	StateConfusionDetection  SessionState = "confusion_detection"
	StateAdaptation          SessionState = "adaptation"
	StateTeachBack           SessionState = "teach_back"
	StateMasteryVerification SessionState = "mastery_verification"
	StateComplete            SessionState = "complete"
)

func ValidSessionState(s string) bool {
	switch SessionState(s) {
	case StateExplanation, StateComprehensionCheck, StateEvaluation,
		StateConfusionDetection, StateAdaptation, StateTeachBack,
		StateMasteryVerification, StateComplete:
		return true
	}
	return false
}

// CompletionReason records why a session reached the Complete state.
type CompletionReason string

const (
	CompletionMastered  CompletionReason = "mastered"
	CompletionSplit     CompletionReason = "split"
	CompletionAbandoned CompletionReason = "abandoned"
)

// ExplanationStrategy selects the prompt template used to generate an explanation.
type ExplanationStrategy string

const (
	StrategyDefault         ExplanationStrategy = "default"
	StrategyHint            ExplanationStrategy = "hint"
	StrategySimplified      ExplanationStrategy = "simplified"
	StrategyTargeted        ExplanationStrategy = "targeted"
	StrategyForcedDifferent ExplanationStrategy = "forced_different"
)

// LearningSession is one learner's attempt at mastering one topic.
// Mutated only by the session engine; one in-flight transition per session.
type LearningSession struct {
	ID                    uuid.UUID         `json:"id"`
	UserID                uuid.UUID         `json:"user_id"`
	TopicID               string            `json:"topic_id"`
	TopicDifficulty       int               `json:"topic_difficulty"`
	ParentSessionID       *uuid.UUID        `json:"parent_session_id,omitempty"`
	State                 SessionState      `json:"state"`
	CompletionReason      *CompletionReason `json:"completion_reason,omitempty"`
	CurrentQuestion       string            `json:"current_question,omitempty"`
	ExpectedAnswer        string            `json:"-"`
	ExpectedAnswerVector  []float32         `json:"-"`
	ReExplanationCount    int               `json:"re_explanation_count"`
	ComprehensionAttempts int               `json:"comprehension_attempts"`
	ConfusionScores       []float64         `json:"confusion_scores"`
	PerfectSession        bool              `json:"perfect_session"`
	// TransitionSeq increments on every applied transition. A generation result
	// computed against an older seq is stale and must be discarded.
	TransitionSeq  int64     `json:"transition_seq"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Terminal reports whether the session accepts no further transitions.
func (s *LearningSession) Terminal() bool {
	return s.State == StateComplete
}

// Explanation is one entry in a session's append-only explanation history.
type Explanation struct {
	ID        uuid.UUID           `json:"id"`
	SessionID uuid.UUID           `json:"session_id"`
	Strategy  ExplanationStrategy `json:"strategy"`
	Content   string              `json:"content"`
	Embedding []float32           `json:"-"`
	CreatedAt time.Time           `json:"created_at"`
}
