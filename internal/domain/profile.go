package domain

import (
	"time"

	"github.com/google/uuid"
)

// EvolutionStage is the cosmetic tier derived from the learner's level.
type EvolutionStage string

const (
	StageSeedling EvolutionStage = "seedling"
	StageSprout   EvolutionStage = "sprout"
	StageSapling  EvolutionStage = "sapling"
	StageTree     EvolutionStage = "tree"
	StageMaster   EvolutionStage = "master"
)

// LearnerProfile is the cumulative, cross-session record for one learner.
// Mutated exclusively by the gamification engine via compare-and-set on Version.
type LearnerProfile struct {
	UserID        uuid.UUID      `json:"user_id"`
	TotalXP       int            `json:"total_xp"`
	Level         int            `json:"level"`
	Stage         EvolutionStage `json:"evolution_stage"`
	CurrentStreak int            `json:"current_streak"`
	LongestStreak int            `json:"longest_streak"`
	// LastActivityDate is the learner-local calendar day of the most recent
	// XP-earning activity, truncated to midnight.
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
	// FreezeAvailable reports whether a streak-freeze credit is held.
	// Credits regenerate at most once per seven-day window; FreezeGrantedAt
	// anchors that window.
	FreezeAvailable bool       `json:"freeze_available"`
	FreezeGrantedAt *time.Time `json:"freeze_granted_at,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ActivityType identifies an XP-earning activity.
type ActivityType string

const (
	ActivityExplanationCompleted ActivityType = "explanation_completed"
	ActivityCheckPassedFirst     ActivityType = "check_passed_first"
	ActivityCheckPassedSecond    ActivityType = "check_passed_second"
	ActivityTeachBackSuccess     ActivityType = "teach_back_success"
	ActivityTopicMastered        ActivityType = "topic_mastered"
)

func ValidActivityType(a string) bool {
	switch ActivityType(a) {
	case ActivityExplanationCompleted, ActivityCheckPassedFirst,
		ActivityCheckPassedSecond, ActivityTeachBackSuccess, ActivityTopicMastered:
		return true
	}
	return false
}

// ActivityEvent is an activity-completion event consumed by the gamification
// engine. SessionID plus TransitionID key the award for idempotent retry.
type ActivityEvent struct {
	UserID         uuid.UUID    `json:"user_id"`
	Activity       ActivityType `json:"activity"`
	SessionID      uuid.UUID    `json:"session_id"`
	TransitionID   uuid.UUID    `json:"transition_id"`
	PerfectSession bool         `json:"perfect_session"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// Achievement tracks one learner's progress toward one badge.
// Immutable once Completed is true.
type Achievement struct {
	UserID        uuid.UUID  `json:"user_id"`
	AchievementID string     `json:"achievement_id"`
	Progress      int        `json:"progress"`
	Target        int        `json:"target"`
	Completed     bool       `json:"completed"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
}
