package scoring

import (
	"time"

	"github.com/socratic-labs/socratic/internal/domain"
)

// Base XP per activity type.
var baseXP = map[domain.ActivityType]int{
	domain.ActivityExplanationCompleted: 20,
	domain.ActivityCheckPassedFirst:     50,
	domain.ActivityCheckPassedSecond:    30,
	domain.ActivityTeachBackSuccess:     100,
	domain.ActivityTopicMastered:        150,
}

const (
	// StreakBonusCap limits the streak multiplier: min(streak, 10) * 10.
	StreakBonusCap = 10
	PerfectBonus   = 50

	// FreezeWindow is the minimum gap between streak-freeze grants.
	FreezeWindow = 7 * 24 * time.Hour
)

// BaseXPFor returns the base XP for an activity and whether the activity is
// known.
func BaseXPFor(a domain.ActivityType) (int, bool) {
	xp, ok := baseXP[a]
	return xp, ok
}

func StreakBonus(streak int) int {
	if streak > StreakBonusCap {
		streak = StreakBonusCap
	}
	if streak < 0 {
		streak = 0
	}
	return streak * 10
}

// AwardDelta is the total XP delta for one activity event.
func AwardDelta(base, streak int, perfect bool) int {
	delta := base + StreakBonus(streak)
	if perfect {
		delta += PerfectBonus
	}
	return delta
}

// levelThresholds[i] is the XP required for level i+1, for levels 1-6.
// Every level past 6 costs another 10000: level n >= 7 requires
// 10000 + (n-6)*10000.
var levelThresholds = []int{0, 500, 1200, 2500, 5000, 10000}

// LevelForXP returns the largest level whose threshold is <= xp. It is a
// monotonic step function; callers must never apply it to a lower XP total
// than the profile already holds.
func LevelForXP(xp int) int {
	if xp < 0 {
		return 1
	}
	if xp >= levelThresholds[len(levelThresholds)-1] {
		return 6 + (xp-10000)/10000
	}
	level := 1
	for i, threshold := range levelThresholds {
		if xp >= threshold {
			level = i + 1
		}
	}
	return level
}

// ThresholdForLevel returns the XP required to reach a level.
func ThresholdForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	if level <= len(levelThresholds) {
		return levelThresholds[level-1]
	}
	return 10000 + (level-6)*10000
}

// StageForLevel maps a level onto its evolution stage.
func StageForLevel(level int) domain.EvolutionStage {
	switch {
	case level <= 2:
		return domain.StageSeedling
	case level <= 4:
		return domain.StageSprout
	case level <= 6:
		return domain.StageSapling
	case level <= 9:
		return domain.StageTree
	default:
		return domain.StageMaster
	}
}

// StreakResult is the outcome of a streak update.
type StreakResult struct {
	Streak         int
	FreezeConsumed bool
}

// NextStreak applies the daily streak rules. Dates are compared on calendar
// days in the learner's local zone; callers pass times already in that zone.
//
//   - first activity ever: streak 1
//   - same day: unchanged
//   - consecutive day: +1
//   - exactly one day skipped with a freeze credit: streak resumes at 1 and
//     the credit is consumed
//   - otherwise: reset to 0
func NextStreak(current int, last *time.Time, today time.Time, freezeAvailable bool) StreakResult {
	if last == nil {
		return StreakResult{Streak: 1}
	}

	days := daysBetween(*last, today)
	switch {
	case days <= 0:
		return StreakResult{Streak: current}
	case days == 1:
		return StreakResult{Streak: current + 1}
	case days == 2 && freezeAvailable:
		return StreakResult{Streak: 1, FreezeConsumed: true}
	default:
		return StreakResult{Streak: 0}
	}
}

// FreezeRegenerates reports whether a new freeze credit may be granted: none
// held, and at least a full window since the last grant.
func FreezeRegenerates(available bool, grantedAt *time.Time, now time.Time) bool {
	if available {
		return false
	}
	if grantedAt == nil {
		return true
	}
	return now.Sub(*grantedAt) >= FreezeWindow
}

func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, a.Location())
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, b.Location())
	return int(bd.Sub(ad).Hours() / 24)
}
