package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/notify"
	"github.com/socratic-labs/socratic/internal/scoring"
	"github.com/socratic-labs/socratic/internal/store"
)

var (
	ErrUnknownActivity     = errors.New("unknown activity type")
	ErrConcurrencyConflict = errors.New("profile update lost too many races")
)

// maxApplyAttempts bounds the optimistic-concurrency retry loop on profile
// updates.
const maxApplyAttempts = 5

// AwardResult describes what one activity event did to a learner's profile.
type AwardResult struct {
	Profile      *domain.LearnerProfile
	XPDelta      int
	LeveledUp    bool
	StageChanged bool
	// Duplicate means the (session, transition) pair was already in the award
	// ledger; the profile is returned as-is and nothing changed.
	Duplicate bool
	Unlocked  []domain.Achievement
}

type GamificationService struct {
	profileStore     domain.ProfileStore
	achievementStore domain.AchievementStore
	graphStore       domain.GraphStore
	notifier         domain.Notifier
	logger           *zap.Logger

	now func() time.Time
}

func NewGamificationService(
	ps domain.ProfileStore,
	as domain.AchievementStore,
	gs domain.GraphStore,
	notifier domain.Notifier,
	logger *zap.Logger,
) *GamificationService {
	return &GamificationService{
		profileStore:     ps,
		achievementStore: as,
		graphStore:       gs,
		notifier:         notifier,
		logger:           logger,
		now:              time.Now,
	}
}

// Apply records one XP-earning activity: streak update, XP delta, level and
// stage recomputation, achievement progress, and realtime notifications. The
// profile write is guarded by a version check and retried on conflict; the
// award ledger makes replays of the same transition a no-op.
func (s *GamificationService) Apply(ctx context.Context, event domain.ActivityEvent) (*AwardResult, error) {
	base, ok := scoring.BaseXPFor(event.Activity)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivity, event.Activity)
	}

	now := event.OccurredAt
	if now.IsZero() {
		now = s.now()
	}

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		p, err := s.profileStore.GetOrCreate(ctx, event.UserID)
		if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}
		prevVersion := p.Version

		streak := scoring.NextStreak(p.CurrentStreak, p.LastActivityDate, now, p.FreezeAvailable)
		p.CurrentStreak = streak.Streak
		if streak.FreezeConsumed {
			p.FreezeAvailable = false
		}
		if p.CurrentStreak > p.LongestStreak {
			p.LongestStreak = p.CurrentStreak
		}
		if scoring.FreezeRegenerates(p.FreezeAvailable, p.FreezeGrantedAt, now) {
			granted := now
			p.FreezeAvailable = true
			p.FreezeGrantedAt = &granted
		}
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		p.LastActivityDate = &day

		delta := scoring.AwardDelta(base, p.CurrentStreak, event.PerfectSession)
		prevLevel := p.Level
		prevStage := p.Stage
		p.TotalXP += delta
		// Levels never move down, even though the streak can reset.
		if lvl := scoring.LevelForXP(p.TotalXP); lvl > p.Level {
			p.Level = lvl
		}
		p.Stage = scoring.StageForLevel(p.Level)

		award := &domain.XPAward{
			SessionID:    event.SessionID,
			TransitionID: event.TransitionID,
			Activity:     event.Activity,
			XPDelta:      delta,
		}
		err = s.profileStore.ApplyAward(ctx, p, prevVersion, award)
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			continue
		case errors.Is(err, store.ErrDuplicateAward):
			current, getErr := s.profileStore.Get(ctx, event.UserID)
			if getErr != nil {
				return nil, fmt.Errorf("reload profile after duplicate award: %w", getErr)
			}
			return &AwardResult{Profile: current, Duplicate: true}, nil
		case err != nil:
			return nil, fmt.Errorf("apply award: %w", err)
		}

		result := &AwardResult{
			Profile:      p,
			XPDelta:      delta,
			LeveledUp:    p.Level > prevLevel,
			StageChanged: p.Stage != prevStage,
		}
		result.Unlocked = s.updateAchievements(ctx, p, event)
		s.publish(ctx, event, result)
		return result, nil
	}

	return nil, ErrConcurrencyConflict
}

// achievementDef declares one badge: its target and how to read the learner's
// current progress toward it.
type achievementDef struct {
	id       string
	target   int
	progress func(p *domain.LearnerProfile, mastered int, event domain.ActivityEvent) int
}

var achievementDefs = []achievementDef{
	{"first_topic_mastered", 1, func(_ *domain.LearnerProfile, mastered int, _ domain.ActivityEvent) int {
		return mastered
	}},
	{"ten_topics_mastered", 10, func(_ *domain.LearnerProfile, mastered int, _ domain.ActivityEvent) int {
		return mastered
	}},
	{"seven_day_streak", 7, func(p *domain.LearnerProfile, _ int, _ domain.ActivityEvent) int {
		return p.LongestStreak
	}},
	{"thirty_day_streak", 30, func(p *domain.LearnerProfile, _ int, _ domain.ActivityEvent) int {
		return p.LongestStreak
	}},
	{"first_perfect_session", 1, func(_ *domain.LearnerProfile, _ int, event domain.ActivityEvent) int {
		if event.Activity == domain.ActivityTopicMastered && event.PerfectSession {
			return 1
		}
		return 0
	}},
	{"level_five", 5, func(p *domain.LearnerProfile, _ int, _ domain.ActivityEvent) int {
		return p.Level
	}},
	{"level_ten", 10, func(p *domain.LearnerProfile, _ int, _ domain.ActivityEvent) int {
		return p.Level
	}},
	{"xp_1000", 1000, func(p *domain.LearnerProfile, _ int, _ domain.ActivityEvent) int {
		return p.TotalXP
	}},
}

// updateAchievements advances every badge against the freshly updated
// profile. Failures are logged and skipped; achievements must never block an
// XP award.
func (s *GamificationService) updateAchievements(ctx context.Context, p *domain.LearnerProfile, event domain.ActivityEvent) []domain.Achievement {
	mastered := 0
	if event.Activity == domain.ActivityTopicMastered {
		n, err := s.graphStore.CountMastered(ctx, p.UserID)
		if err != nil {
			s.logger.Warn("failed to count mastered topics for achievements",
				zap.String("user_id", p.UserID.String()),
				zap.Error(err))
		} else {
			mastered = n
		}
	}

	existing, err := s.achievementStore.ListByUser(ctx, p.UserID)
	if err != nil {
		s.logger.Warn("failed to list achievements",
			zap.String("user_id", p.UserID.String()),
			zap.Error(err))
		existing = nil
	}
	completed := make(map[string]bool, len(existing))
	for _, a := range existing {
		if a.Completed {
			completed[a.AchievementID] = true
		}
	}

	var unlocked []domain.Achievement
	for _, def := range achievementDefs {
		if completed[def.id] {
			continue
		}
		progress := def.progress(p, mastered, event)
		if progress <= 0 {
			continue
		}
		a := &domain.Achievement{
			UserID:        p.UserID,
			AchievementID: def.id,
			Progress:      progress,
			Target:        def.target,
		}
		if progress >= def.target {
			a.Completed = true
			unlockedAt := s.now()
			a.UnlockedAt = &unlockedAt
		}
		if err := s.achievementStore.Upsert(ctx, a); err != nil {
			s.logger.Warn("failed to upsert achievement",
				zap.String("user_id", p.UserID.String()),
				zap.String("achievement_id", def.id),
				zap.Error(err))
			continue
		}
		if a.Completed {
			unlocked = append(unlocked, *a)
		}
	}
	return unlocked
}

func (s *GamificationService) publish(ctx context.Context, event domain.ActivityEvent, result *AwardResult) {
	s.notifier.Notify(ctx, domain.NotifyEvent{
		Type:   notify.EventXPAwarded,
		UserID: event.UserID,
		Payload: map[string]any{
			"activity": string(event.Activity),
			"xp_delta": result.XPDelta,
			"total_xp": result.Profile.TotalXP,
			"streak":   result.Profile.CurrentStreak,
		},
	})
	if result.LeveledUp {
		s.notifier.Notify(ctx, domain.NotifyEvent{
			Type:   notify.EventLevelUp,
			UserID: event.UserID,
			Payload: map[string]any{
				"level": result.Profile.Level,
			},
		})
	}
	if result.StageChanged {
		s.notifier.Notify(ctx, domain.NotifyEvent{
			Type:   notify.EventStageChanged,
			UserID: event.UserID,
			Payload: map[string]any{
				"stage": string(result.Profile.Stage),
			},
		})
	}
	for _, a := range result.Unlocked {
		s.notifier.Notify(ctx, domain.NotifyEvent{
			Type:   notify.EventAchievementUnlocked,
			UserID: event.UserID,
			Payload: map[string]any{
				"achievement_id": a.AchievementID,
			},
		})
	}
}
