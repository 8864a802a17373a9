package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/notify"
)

func newTestGamification() (*GamificationService, *mockProfileStore, *mockGraphStore, *notify.NoopNotifier) {
	profiles := newMockProfileStore()
	achievements := newMockAchievementStore()
	graph := newMockGraphStore()
	notifier := notify.NewNoopNotifier()
	svc := NewGamificationService(profiles, achievements, graph, notifier, zap.NewNop())
	return svc, profiles, graph, notifier
}

func masteredEvent(userID uuid.UUID, perfect bool) domain.ActivityEvent {
	return domain.ActivityEvent{
		UserID:         userID,
		Activity:       domain.ActivityTopicMastered,
		SessionID:      uuid.New(),
		TransitionID:   uuid.New(),
		PerfectSession: perfect,
	}
}

func TestApply_UnknownActivity(t *testing.T) {
	svc, _, _, _ := newTestGamification()
	_, err := svc.Apply(context.Background(), domain.ActivityEvent{
		UserID:       uuid.New(),
		Activity:     domain.ActivityType("bogus"),
		SessionID:    uuid.New(),
		TransitionID: uuid.New(),
	})
	assert.ErrorIs(t, err, ErrUnknownActivity)
}

func TestApply_FirstActivityCreatesProfile(t *testing.T) {
	svc, profiles, _, _ := newTestGamification()
	userID := uuid.New()

	result, err := svc.Apply(context.Background(), domain.ActivityEvent{
		UserID:       userID,
		Activity:     domain.ActivityExplanationCompleted,
		SessionID:    uuid.New(),
		TransitionID: uuid.New(),
	})
	require.NoError(t, err)

	// 20 base + streak 1 bonus of 10.
	assert.Equal(t, 30, result.XPDelta)
	assert.Equal(t, 30, result.Profile.TotalXP)
	assert.Equal(t, 1, result.Profile.CurrentStreak)
	assert.Equal(t, 1, result.Profile.Level)
	assert.Equal(t, domain.StageSeedling, result.Profile.Stage)
	assert.False(t, result.LeveledUp)
	require.NotNil(t, result.Profile.LastActivityDate)

	// A freeze credit is granted on first activity.
	assert.True(t, result.Profile.FreezeAvailable)

	stored, err := profiles.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 30, stored.TotalXP)
}

func TestApply_MasteryWithStreakAndPerfectBonus(t *testing.T) {
	svc, profiles, _, _ := newTestGamification()
	userID := uuid.New()
	today := time.Now()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	// Seed a profile mid-progression: 480 XP, 5-day streak, active today.
	_, err := profiles.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	profiles.mu.Lock()
	p := profiles.profiles[userID]
	p.TotalXP = 480
	p.CurrentStreak = 5
	p.LongestStreak = 5
	p.LastActivityDate = &day
	profiles.mu.Unlock()

	result, err := svc.Apply(context.Background(), masteredEvent(userID, true))
	require.NoError(t, err)

	// 150 base + min(5,10)*10 streak + 50 perfect = 250.
	assert.Equal(t, 250, result.XPDelta)
	assert.Equal(t, 730, result.Profile.TotalXP)
	assert.Equal(t, 2, result.Profile.Level)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 5, result.Profile.CurrentStreak)
}

func TestApply_StreakIncrementsOnConsecutiveDay(t *testing.T) {
	svc, profiles, _, _ := newTestGamification()
	userID := uuid.New()

	_, err := profiles.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	yesterday := time.Now().AddDate(0, 0, -1)
	yday := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, yesterday.Location())
	profiles.mu.Lock()
	p := profiles.profiles[userID]
	p.CurrentStreak = 3
	p.LongestStreak = 3
	p.LastActivityDate = &yday
	profiles.mu.Unlock()

	result, err := svc.Apply(context.Background(), domain.ActivityEvent{
		UserID:       userID,
		Activity:     domain.ActivityCheckPassedFirst,
		SessionID:    uuid.New(),
		TransitionID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Profile.CurrentStreak)
	assert.Equal(t, 4, result.Profile.LongestStreak)
}

func TestApply_FreezePreservesStreakAfterOneMissedDay(t *testing.T) {
	svc, profiles, _, _ := newTestGamification()
	userID := uuid.New()

	_, err := profiles.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	twoDaysAgo := time.Now().AddDate(0, 0, -2)
	last := time.Date(twoDaysAgo.Year(), twoDaysAgo.Month(), twoDaysAgo.Day(), 0, 0, 0, 0, twoDaysAgo.Location())
	granted := time.Now().AddDate(0, 0, -3)
	profiles.mu.Lock()
	p := profiles.profiles[userID]
	p.CurrentStreak = 9
	p.LongestStreak = 9
	p.LastActivityDate = &last
	p.FreezeAvailable = true
	p.FreezeGrantedAt = &granted
	profiles.mu.Unlock()

	result, err := svc.Apply(context.Background(), domain.ActivityEvent{
		UserID:       userID,
		Activity:     domain.ActivityExplanationCompleted,
		SessionID:    uuid.New(),
		TransitionID: uuid.New(),
	})
	require.NoError(t, err)
	// The freeze rescues continuity at streak 1 and the credit is spent.
	assert.Equal(t, 1, result.Profile.CurrentStreak)
	assert.False(t, result.Profile.FreezeAvailable)
	assert.Equal(t, 9, result.Profile.LongestStreak)
}

func TestApply_LevelNeverDecreases(t *testing.T) {
	svc, profiles, _, _ := newTestGamification()
	userID := uuid.New()

	_, err := profiles.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	profiles.mu.Lock()
	p := profiles.profiles[userID]
	p.TotalXP = 600
	p.Level = 3 // manually above what 600 XP maps to
	p.Stage = domain.StageSprout
	profiles.mu.Unlock()

	result, err := svc.Apply(context.Background(), domain.ActivityEvent{
		UserID:       userID,
		Activity:     domain.ActivityExplanationCompleted,
		SessionID:    uuid.New(),
		TransitionID: uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Profile.Level)
	assert.False(t, result.LeveledUp)
}

func TestApply_DuplicateTransitionIsNoOp(t *testing.T) {
	svc, _, _, _ := newTestGamification()
	userID := uuid.New()
	event := masteredEvent(userID, false)

	first, err := svc.Apply(context.Background(), event)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := svc.Apply(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Zero(t, second.XPDelta)
	assert.Equal(t, first.Profile.TotalXP, second.Profile.TotalXP)
}

func TestApply_ConcurrentAwardsLoseNoXP(t *testing.T) {
	svc, profiles, _, _ := newTestGamification()
	userID := uuid.New()
	sessionID := uuid.New()

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Apply(context.Background(), domain.ActivityEvent{
				UserID:       userID,
				Activity:     domain.ActivityExplanationCompleted,
				SessionID:    sessionID,
				TransitionID: uuid.New(),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	p, err := profiles.Get(context.Background(), userID)
	require.NoError(t, err)
	// Every worker lands on the same day, so each pays 20 base + the streak-1
	// bonus of 10.
	assert.Equal(t, workers*30, p.TotalXP)
}

func TestApply_UnlocksFirstTopicMastered(t *testing.T) {
	svc, _, graph, notifier := newTestGamification()
	userID := uuid.New()

	require.NoError(t, graph.Upsert(context.Background(), &domain.KnowledgeGraphNode{
		UserID:            userID,
		TopicID:           "pointers",
		Status:            domain.NodeMastered,
		MasteryPercentage: 100,
	}))

	result, err := svc.Apply(context.Background(), masteredEvent(userID, true))
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, a := range result.Unlocked {
		ids[a.AchievementID] = true
	}
	assert.True(t, ids["first_topic_mastered"])
	assert.True(t, ids["first_perfect_session"])
	assert.False(t, ids["ten_topics_mastered"])

	var achievementEvents int
	for _, ev := range notifier.Events() {
		if ev.Type == notify.EventAchievementUnlocked {
			achievementEvents++
		}
	}
	assert.Equal(t, len(result.Unlocked), achievementEvents)
}

func TestApply_XPThresholdAchievement(t *testing.T) {
	svc, profiles, _, _ := newTestGamification()
	userID := uuid.New()

	_, err := profiles.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	profiles.mu.Lock()
	profiles.profiles[userID].TotalXP = 990
	profiles.mu.Unlock()

	result, err := svc.Apply(context.Background(), domain.ActivityEvent{
		UserID:       userID,
		Activity:     domain.ActivityCheckPassedFirst,
		SessionID:    uuid.New(),
		TransitionID: uuid.New(),
	})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, a := range result.Unlocked {
		ids[a.AchievementID] = true
	}
	assert.True(t, ids["xp_1000"], "crossing 1000 XP unlocks the badge")
}

func TestApply_PublishesLevelUpEvent(t *testing.T) {
	svc, profiles, _, notifier := newTestGamification()
	userID := uuid.New()

	_, err := profiles.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	profiles.mu.Lock()
	profiles.profiles[userID].TotalXP = 490
	profiles.mu.Unlock()

	result, err := svc.Apply(context.Background(), domain.ActivityEvent{
		UserID:       userID,
		Activity:     domain.ActivityCheckPassedFirst,
		SessionID:    uuid.New(),
		TransitionID: uuid.New(),
	})
	require.NoError(t, err)
	require.True(t, result.LeveledUp)

	var sawXP, sawLevel bool
	for _, ev := range notifier.Events() {
		switch ev.Type {
		case notify.EventXPAwarded:
			sawXP = true
		case notify.EventLevelUp:
			sawLevel = true
		}
	}
	assert.True(t, sawXP)
	assert.True(t, sawLevel)
}
