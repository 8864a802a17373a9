package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/embedding"
	"github.com/socratic-labs/socratic/internal/llm"
	"github.com/socratic-labs/socratic/internal/notify"
	"github.com/socratic-labs/socratic/internal/scoring"
)

type sessionFixture struct {
	svc      *SessionService
	sessions *mockSessionStore
	graph    *mockGraphStore
	profiles *mockProfileStore
	gen      *llm.MockClient
	embedder *embedding.MockClient
	notifier *notify.NoopNotifier
}

func newSessionFixture() *sessionFixture {
	logger := zap.NewNop()
	sessions := newMockSessionStore()
	graph := newMockGraphStore()
	profiles := newMockProfileStore()
	knowledge := newMockKnowledgeStore()
	embedder := embedding.NewMockClient()
	gen := llm.NewMockClient()
	notifier := notify.NewNoopNotifier()

	retrieval := NewRetrievalService(knowledge, embedder, logger)
	gam := NewGamificationService(profiles, newMockAchievementStore(), graph, notifier, logger)
	svc := NewSessionService(sessions, graph, profiles, retrieval, embedder, gen, gam, notifier, logger)
	svc.genBackoff = time.Millisecond

	return &sessionFixture{
		svc:      svc,
		sessions: sessions,
		graph:    graph,
		profiles: profiles,
		gen:      gen,
		embedder: embedder,
		notifier: notifier,
	}
}

func (f *sessionFixture) start(t *testing.T, userID uuid.UUID, topic string) *domain.LearningSession {
	t.Helper()
	res, err := f.svc.Start(context.Background(), StartSessionInput{UserID: userID, TopicID: topic})
	require.NoError(t, err)
	return res.Session
}

// correctAnswer returns a response text whose mock embedding matches the
// session's expected answer exactly.
func (f *sessionFixture) correctAnswer(sess *domain.LearningSession) string {
	return sess.ExpectedAnswer
}

func TestStart_CreatesSessionAwaitingCheck(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()

	res, err := f.svc.Start(context.Background(), StartSessionInput{UserID: userID, TopicID: "goroutines"})
	require.NoError(t, err)

	sess := res.Session
	assert.Equal(t, domain.StateComprehensionCheck, sess.State)
	assert.Equal(t, "goroutines", sess.TopicID)
	assert.NotEmpty(t, sess.CurrentQuestion)
	assert.NotEmpty(t, sess.ExpectedAnswerVector)
	assert.True(t, sess.PerfectSession)
	assert.NotEmpty(t, res.Explanation)

	node, err := f.graph.Get(context.Background(), userID, "goroutines")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeLearning, node.Status)
	assert.Equal(t, masteryOnStart, node.MasteryPercentage)

	// explanation_completed XP landed.
	p, err := f.profiles.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 30, p.TotalXP)

	history, err := f.svc.Explanations(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StrategyDefault, history[0].Strategy)
}

func TestStart_RequiresTopic(t *testing.T) {
	f := newSessionFixture()
	_, err := f.svc.Start(context.Background(), StartSessionInput{UserID: uuid.New(), TopicID: "   "})
	assert.Error(t, err)
}

func TestStart_GenerationOutageLeavesNoSession(t *testing.T) {
	f := newSessionFixture()
	f.gen.LessonError = errors.New("provider down")

	_, err := f.svc.Start(context.Background(), StartSessionInput{UserID: uuid.New(), TopicID: "channels"})
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	// Three attempts with backoff, nothing persisted.
	assert.Len(t, f.gen.LessonCalls, 3)
	assert.Empty(t, f.sessions.sessions)
}

func TestSubmitResponse_CorrectAdvancesToTeachBack(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()
	sess := f.start(t, userID, "goroutines")

	res, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     f.correctAnswer(sess),
		ResponseTime: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, res.Correct)
	assert.InDelta(t, 1.0, res.Similarity, 1e-6)
	assert.Less(t, res.ConfusionScore, 0.3)
	assert.Equal(t, domain.StateTeachBack, res.Session.State)
	assert.True(t, res.Session.PerfectSession)
	require.Len(t, res.Session.ConfusionScores, 1)

	// check_passed_first on top of the start award.
	p, err := f.profiles.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 90, p.TotalXP)
}

func TestSubmitResponse_IncorrectTriggersReExplanation(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()
	sess := f.start(t, userID, "goroutines")

	// Queue a distinct follow-up lesson so the novelty check passes.
	f.gen.LessonResponses = []*domain.GeneratedLesson{{
		Explanation:    "A completely different angle on the topic.",
		Question:       "What changed?",
		ExpectedAnswer: "The angle changed.",
	}}

	res, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     "something entirely unrelated",
		ResponseTime: 40 * time.Second,
	})
	require.NoError(t, err)

	assert.False(t, res.Correct)
	assert.NotEmpty(t, res.NewExplanation)
	assert.Equal(t, "What changed?", res.Question)
	assert.Equal(t, domain.StateComprehensionCheck, res.Session.State)
	assert.Equal(t, 1, res.Session.ReExplanationCount)
	assert.Equal(t, 1, res.Session.ComprehensionAttempts)
	assert.False(t, res.Session.PerfectSession)
	assert.Equal(t, "What changed?", res.Session.CurrentQuestion)

	history, err := f.svc.Explanations(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotEqual(t, domain.StrategyDefault, history[1].Strategy)
}

func TestSubmitResponse_CorrectButConfusedReExplains(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()
	sess := f.start(t, userID, "goroutines")

	// Saturate the attempts signal so a right answer still scores above the
	// proceed band: 0.3 (attempts) + 0.2 (double the 40s baseline) = 0.5.
	f.sessions.mu.Lock()
	f.sessions.sessions[sess.ID].ComprehensionAttempts = 3
	f.sessions.mu.Unlock()

	f.gen.LessonResponses = []*domain.GeneratedLesson{{
		Explanation:    "Same ground, gentler slope.",
		Question:       "Try once more: what happens?",
		ExpectedAnswer: "The scheduler parks the goroutine.",
	}}

	res, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     f.correctAnswer(sess),
		ResponseTime: 120 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, res.Correct)
	assert.Greater(t, res.ConfusionScore, 0.3)
	assert.Equal(t, domain.StateComprehensionCheck, res.Session.State)
	assert.NotEmpty(t, res.NewExplanation)
	assert.Equal(t, 1, res.Session.ReExplanationCount)
	assert.Empty(t, res.SplitSessions)

	// No check-passed award: 30 from start plus 30 for the re-explanation.
	p, err := f.profiles.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 60, p.TotalXP)
}

func TestSubmitResponse_BreakdownBelowCapReExplains(t *testing.T) {
	f := newSessionFixture()
	sess := f.start(t, uuid.New(), "goroutines")

	// Two prior misses push the incorrect-attempt signal to saturation.
	f.sessions.mu.Lock()
	f.sessions.sessions[sess.ID].ComprehensionAttempts = 2
	f.sessions.mu.Unlock()

	f.gen.LessonResponses = []*domain.GeneratedLesson{{
		Explanation:    "Smallest possible piece of the idea.",
		Question:       "What does go func() do?",
		ExpectedAnswer: "It starts a new goroutine.",
	}}

	res, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     "huh, I'm totally lost and confused",
		ResponseTime: 80 * time.Second,
	})
	require.NoError(t, err)

	// Breakdown-level confusion with re-explanations left keeps the learner
	// in the loop instead of splitting the topic.
	assert.Equal(t, scoring.InterventionBreakdown, res.Intervention)
	assert.Greater(t, res.ConfusionScore, 0.7)
	assert.Equal(t, domain.StateComprehensionCheck, res.Session.State)
	assert.Nil(t, res.Session.CompletionReason)
	assert.Empty(t, res.SplitSessions)
	assert.Equal(t, 1, res.Session.ReExplanationCount)

	history, err := f.svc.Explanations(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StrategySimplified, history[1].Strategy)
}

func TestSubmitResponse_NoveltyForcesDifferentApproach(t *testing.T) {
	f := newSessionFixture()
	sess := f.start(t, uuid.New(), "goroutines")

	// The default mock lesson repeats verbatim, so every regeneration is too
	// similar to its predecessor and both forced-different retries fire.
	_, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     "not the answer at all",
		ResponseTime: 30 * time.Second,
	})
	require.NoError(t, err)

	var forced int
	for _, call := range f.gen.LessonCalls {
		if call.Strategy == domain.StrategyForcedDifferent {
			forced++
		}
	}
	assert.Equal(t, f.svc.noveltyRetries, forced)
}

func TestSubmitResponse_SplitsAfterReExplanationCap(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()
	sess := f.start(t, userID, "concurrency")

	// Exhaust the re-explanation budget directly in the store.
	f.sessions.mu.Lock()
	stored := f.sessions.sessions[sess.ID]
	stored.ReExplanationCount = f.svc.maxReExplanations
	f.sessions.mu.Unlock()

	res, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     "still lost",
		ResponseTime: 60 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StateComplete, res.Session.State)
	require.NotNil(t, res.Session.CompletionReason)
	assert.Equal(t, domain.CompletionSplit, *res.Session.CompletionReason)
	require.Len(t, res.SplitSessions, 2)
	for _, child := range res.SplitSessions {
		require.NotNil(t, child.ParentSessionID)
		assert.Equal(t, sess.ID, *child.ParentSessionID)
		assert.Equal(t, domain.StateComprehensionCheck, child.State)
	}

	var sawSplit bool
	for _, ev := range f.notifier.Events() {
		if ev.Type == notify.EventSessionSplit {
			sawSplit = true
		}
	}
	assert.True(t, sawSplit)
}

func TestSubmitResponse_RejectsTerminalSession(t *testing.T) {
	f := newSessionFixture()
	sess := f.start(t, uuid.New(), "goroutines")

	f.sessions.mu.Lock()
	f.sessions.sessions[sess.ID].State = domain.StateComplete
	f.sessions.mu.Unlock()

	_, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     "anything",
		ResponseTime: time.Second,
	})
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestSubmitResponse_RejectsWrongState(t *testing.T) {
	f := newSessionFixture()
	sess := f.start(t, uuid.New(), "goroutines")

	f.sessions.mu.Lock()
	f.sessions.sessions[sess.ID].State = domain.StateTeachBack
	f.sessions.mu.Unlock()

	_, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     "anything",
		ResponseTime: time.Second,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSubmitTeachBack_MasteryCompletesSession(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()
	sess := f.start(t, userID, "goroutines")

	// Pass the comprehension check first.
	_, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     f.correctAnswer(sess),
		ResponseTime: 5 * time.Second,
	})
	require.NoError(t, err)

	res, err := f.svc.SubmitTeachBack(context.Background(), TeachBackInput{
		SessionID:   sess.ID,
		Explanation: "Goroutines are lightweight threads multiplexed onto OS threads by the runtime scheduler.",
	})
	require.NoError(t, err)

	assert.True(t, res.Mastered)
	assert.Equal(t, domain.StateComplete, res.Session.State)
	require.NotNil(t, res.Session.CompletionReason)
	assert.Equal(t, domain.CompletionMastered, *res.Session.CompletionReason)

	node, err := f.graph.Get(context.Background(), userID, "goroutines")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeMastered, node.Status)
	assert.Equal(t, 100, node.MasteryPercentage)

	// start 30 + check_passed_first 60 + teach_back 110 + mastered+perfect 210.
	p, err := f.profiles.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 410, p.TotalXP)
}

func TestSubmitTeachBack_MasteryIsIdempotentAcrossRetries(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()
	sess := f.start(t, userID, "goroutines")

	_, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     f.correctAnswer(sess),
		ResponseTime: 5 * time.Second,
	})
	require.NoError(t, err)

	cur, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)

	// Replay the award steps exactly as a retried commit would.
	require.NoError(t, f.svc.awardStrict(context.Background(), cur, domain.ActivityTeachBackSuccess, false))
	err = f.svc.awardStrict(context.Background(), cur, domain.ActivityTeachBackSuccess, false)
	require.NoError(t, err)

	p, err := f.profiles.Get(context.Background(), userID)
	require.NoError(t, err)
	// Only one teach_back_success award landed: 30 + 60 + 110.
	assert.Equal(t, 200, p.TotalXP)
}

func TestSubmitTeachBack_FailureTriggersTargetedReExplanation(t *testing.T) {
	f := newSessionFixture()
	userID := uuid.New()
	sess := f.start(t, userID, "goroutines")

	_, err := f.svc.SubmitResponse(context.Background(), ResponseInput{
		SessionID:    sess.ID,
		Response:     f.correctAnswer(sess),
		ResponseTime: 5 * time.Second,
	})
	require.NoError(t, err)

	f.gen.EvaluateResponse = &domain.TeachBackEvaluation{
		Completeness: 0.5, Accuracy: 0.6, Clarity: 0.7, Feedback: "Missing the scheduler.",
	}
	f.gen.LessonResponses = []*domain.GeneratedLesson{{
		Explanation:    "Focus on the scheduler this time.",
		Question:       "What does the scheduler do?",
		ExpectedAnswer: "It multiplexes goroutines onto threads.",
	}}

	res, err := f.svc.SubmitTeachBack(context.Background(), TeachBackInput{
		SessionID:   sess.ID,
		Explanation: "Goroutines are just threads.",
	})
	require.NoError(t, err)

	assert.False(t, res.Mastered)
	assert.Equal(t, domain.StateComprehensionCheck, res.Session.State)
	assert.Equal(t, 1, res.Session.ReExplanationCount)
	assert.False(t, res.Session.PerfectSession)
	assert.NotEmpty(t, res.NewExplanation)

	history, err := f.svc.Explanations(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StrategyTargeted, history[1].Strategy)
}

func TestSubmitTeachBack_ExhaustionSplitsTopic(t *testing.T) {
	f := newSessionFixture()
	sess := f.start(t, uuid.New(), "concurrency")

	f.sessions.mu.Lock()
	stored := f.sessions.sessions[sess.ID]
	stored.State = domain.StateTeachBack
	stored.ReExplanationCount = f.svc.maxReExplanations
	f.sessions.mu.Unlock()

	f.gen.EvaluateResponse = &domain.TeachBackEvaluation{
		Completeness: 0.2, Accuracy: 0.2, Clarity: 0.2, Feedback: "Fundamentally confused.",
	}

	res, err := f.svc.SubmitTeachBack(context.Background(), TeachBackInput{
		SessionID:   sess.ID,
		Explanation: "I really cannot explain this.",
	})
	require.NoError(t, err)

	assert.False(t, res.Mastered)
	assert.Equal(t, domain.StateComplete, res.Session.State)
	require.NotNil(t, res.Session.CompletionReason)
	assert.Equal(t, domain.CompletionSplit, *res.Session.CompletionReason)
	assert.Len(t, res.SplitSessions, 2)
}

func TestGet_UnknownSession(t *testing.T) {
	f := newSessionFixture()
	_, err := f.svc.Get(context.Background(), uuid.New())
	assert.Error(t, err)
}
