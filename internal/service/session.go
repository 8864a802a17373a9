package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/embedding"
	"github.com/socratic-labs/socratic/internal/notify"
	"github.com/socratic-labs/socratic/internal/scoring"
	"github.com/socratic-labs/socratic/internal/store"
)

var (
	// ErrInvalidInput marks caller mistakes whose message is safe to return
	// verbatim in an HTTP body.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSessionComplete is returned for any mutation attempted on a terminal
	// session.
	ErrSessionComplete = errors.New("session already complete")
	// ErrStaleTransition means another request advanced the session while this
	// one was computing its result; the result is discarded.
	ErrStaleTransition = errors.New("session advanced concurrently")
	// ErrGenerationUnavailable wraps the final provider error after all
	// generation retries are spent.
	ErrGenerationUnavailable = errors.New("lesson generation unavailable")
)

const (
	// answerThreshold is the minimum cosine similarity between the learner's
	// response and the expected answer for the response to count as correct.
	defaultAnswerThreshold = 0.75
	// teachBackThreshold is the bar every evaluation dimension must clear.
	defaultTeachBackThreshold = 0.8
	// noveltyThreshold caps how similar a re-explanation may be to its
	// predecessor before a forced-different retry.
	defaultNoveltyThreshold = 0.70
	defaultNoveltyRetries   = 2
	// maxReExplanations is how many re-explanations a session absorbs before
	// the topic is split into sub-topics.
	defaultMaxReExplanations = 3

	defaultGenAttempts = 3
	defaultGenBackoff  = 500 * time.Millisecond

	defaultTopicDifficulty = 3
	// masteryOnStart is the graph percentage granted when a topic moves from
	// not_started to learning.
	masteryOnStart = 10
)

// sessionLocks hands out one mutex per session ID. Entries are refcounted and
// dropped when the last holder releases, so the map stays bounded by the
// number of in-flight requests.
type sessionLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[uuid.UUID]*lockEntry)
	}
	e := l.held[id]
	if e == nil {
		e = &lockEntry{}
		l.held[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}

// SessionService drives the learning loop: lesson delivery, comprehension
// checks, confusion scoring, adaptive re-explanation, teach-back, and topic
// splits. Generation calls run outside the per-session lock; results are
// applied only if the session's transition counter has not moved.
type SessionService struct {
	sessionStore domain.SessionStore
	graphStore   domain.GraphStore
	profileStore domain.ProfileStore
	retrieval    *RetrievalService
	embedder     domain.EmbeddingClient
	generator    domain.Generator
	gamification *GamificationService
	notifier     domain.Notifier
	logger       *zap.Logger

	locks sessionLocks

	answerThreshold    float64
	teachBackThreshold float64
	noveltyThreshold   float64
	noveltyRetries     int
	maxReExplanations  int
	genAttempts        int
	genBackoff         time.Duration
}

func NewSessionService(
	ss domain.SessionStore,
	gs domain.GraphStore,
	ps domain.ProfileStore,
	retrieval *RetrievalService,
	embedder domain.EmbeddingClient,
	generator domain.Generator,
	gamification *GamificationService,
	notifier domain.Notifier,
	logger *zap.Logger,
) *SessionService {
	return &SessionService{
		sessionStore: ss,
		graphStore:   gs,
		profileStore: ps,
		retrieval:    retrieval,
		embedder:     embedder,
		generator:    generator,
		gamification: gamification,
		notifier:     notifier,
		logger:       logger,

		answerThreshold:    defaultAnswerThreshold,
		teachBackThreshold: defaultTeachBackThreshold,
		noveltyThreshold:   defaultNoveltyThreshold,
		noveltyRetries:     defaultNoveltyRetries,
		maxReExplanations:  defaultMaxReExplanations,
		genAttempts:        defaultGenAttempts,
		genBackoff:         defaultGenBackoff,
	}
}

type StartSessionInput struct {
	UserID          uuid.UUID
	TopicID         string
	Difficulty      int
	ParentSessionID *uuid.UUID
}

// StartResult is a new session plus the lesson text the learner sees first.
type StartResult struct {
	Session     *domain.LearningSession
	Explanation string
}

// Start generates the opening lesson, persists the session already waiting on
// its comprehension check, and marks the topic as learning in the knowledge
// graph. The session row is only created after generation succeeds, so a
// provider outage leaves no half-built state behind.
func (s *SessionService) Start(ctx context.Context, in StartSessionInput) (*StartResult, error) {
	topic := strings.TrimSpace(in.TopicID)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic_id is required", ErrInvalidInput)
	}
	difficulty := in.Difficulty
	if difficulty == 0 {
		difficulty = defaultTopicDifficulty
	}
	if difficulty < 1 {
		difficulty = 1
	}
	if difficulty > 10 {
		difficulty = 10
	}

	level := s.learnerLevel(ctx, in.UserID)
	contextBlock := s.groundingContext(ctx, topic, level)

	req := domain.GenerationRequest{
		TopicID:      topic,
		Strategy:     domain.StrategyDefault,
		Context:      contextBlock,
		LearnerLevel: level,
	}
	var lesson *domain.GeneratedLesson
	err := s.withRetry(ctx, "generate lesson", func() error {
		var genErr error
		lesson, genErr = s.generator.GenerateLesson(ctx, req)
		return genErr
	})
	if err != nil {
		return nil, err
	}

	answerVec, err := s.embedder.Embed(ctx, lesson.ExpectedAnswer)
	if err != nil {
		return nil, fmt.Errorf("embed expected answer: %w", err)
	}
	explEmb := s.embedOrNil(ctx, lesson.Explanation)

	// The lesson and question are delivered in this same response, so the
	// session lands directly in comprehension_check.
	state, err := NextState(domain.StateExplanation, EventExplanationDelivered)
	if err != nil {
		return nil, err
	}

	sess := &domain.LearningSession{
		UserID:               in.UserID,
		TopicID:              topic,
		TopicDifficulty:      difficulty,
		ParentSessionID:      in.ParentSessionID,
		State:                state,
		CurrentQuestion:      lesson.Question,
		ExpectedAnswer:       lesson.ExpectedAnswer,
		ExpectedAnswerVector: answerVec,
		PerfectSession:       true,
		ConfusionScores:      []float64{},
	}
	if err := s.sessionStore.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.appendExplanation(ctx, sess.ID, domain.StrategyDefault, lesson.Explanation, explEmb)

	if err := s.graphStore.Upsert(ctx, &domain.KnowledgeGraphNode{
		UserID:            in.UserID,
		TopicID:           topic,
		Status:            domain.NodeLearning,
		MasteryPercentage: masteryOnStart,
	}); err != nil {
		s.logger.Warn("failed to mark topic as learning",
			zap.String("topic_id", topic),
			zap.Error(err))
	} else {
		s.notifier.Notify(ctx, domain.NotifyEvent{
			Type:   notify.EventGraphUpdated,
			UserID: in.UserID,
			Payload: map[string]any{
				"topic_id": topic,
				"status":   string(domain.NodeLearning),
			},
		})
	}

	s.award(ctx, sess, domain.ActivityExplanationCompleted, false)

	return &StartResult{Session: sess, Explanation: lesson.Explanation}, nil
}

// Get reads a session without taking its lock; status reads never block on
// in-flight transitions.
func (s *SessionService) Get(ctx context.Context, id uuid.UUID) (*domain.LearningSession, error) {
	return s.sessionStore.GetByID(ctx, id)
}

// Explanations returns the full explanation history for a session.
func (s *SessionService) Explanations(ctx context.Context, id uuid.UUID) ([]domain.Explanation, error) {
	return s.sessionStore.ListExplanations(ctx, id)
}

type ResponseInput struct {
	SessionID    uuid.UUID
	Response     string
	ResponseTime time.Duration
}

// ResponseResult is the outcome of one comprehension-check response.
type ResponseResult struct {
	Session        *domain.LearningSession
	Correct        bool
	Similarity     float64
	ConfusionScore float64
	Intervention   scoring.Intervention
	// NewExplanation is set when the loop re-explained; Question then carries
	// the fresh comprehension question.
	NewExplanation string
	Question       string
	// SplitSessions are the child sessions created when the topic was broken
	// into sub-topics.
	SplitSessions []*domain.LearningSession
}

// SubmitResponse evaluates a comprehension-check answer, scores confusion,
// and either advances to teach-back, re-explains with an adapted strategy, or
// splits the topic. The session lock is held only to read input state and to
// apply the result; all generation happens between the two critical sections.
func (s *SessionService) SubmitResponse(ctx context.Context, in ResponseInput) (*ResponseResult, error) {
	if strings.TrimSpace(in.Response) == "" {
		return nil, fmt.Errorf("%w: response is required", ErrInvalidInput)
	}

	snapshot, err := s.lockedSnapshot(ctx, in.SessionID, EventResponseSubmitted)
	if err != nil {
		return nil, err
	}

	// Unlocked phase: embeddings, scoring, and any generation.
	respEmb, err := s.embedder.Embed(ctx, in.Response)
	if err != nil {
		return nil, fmt.Errorf("embed response: %w", err)
	}
	similarity := embedding.CosineSimilarity(respEmb, snapshot.ExpectedAnswerVector)
	if similarity < 0 {
		similarity = 0
	}
	correct := similarity >= s.answerThreshold

	incorrectAttempts := snapshot.ComprehensionAttempts
	if !correct {
		incorrectAttempts++
	}
	score, err := scoring.ConfusionScore(scoring.ConfusionSignal{
		SemanticSimilarity: similarity,
		ResponseTime:       in.ResponseTime,
		Baseline:           scoring.BaselineFor(snapshot.TopicDifficulty),
		IncorrectAttempts:  incorrectAttempts,
		Sentiment:          scoring.SentimentScore(in.Response),
	})
	if err != nil {
		return nil, fmt.Errorf("score confusion: %w", err)
	}
	intervention := scoring.InterventionFor(score)

	result := &ResponseResult{
		Correct:        correct,
		Similarity:     similarity,
		ConfusionScore: score,
		Intervention:   intervention,
	}

	// Teach-back is gated on the confusion score, not on correctness alone:
	// a correct answer delivered in visible confusion gets re-explained too.
	if correct && intervention == scoring.InterventionProceed {
		return s.applyCorrectResponse(ctx, snapshot, score, result)
	}

	// The sub-topic split fires only once the re-explanation cap is spent.
	// High confusion below the cap re-explains with a simplified strategy;
	// every pass through applyReExplanation counts toward the cap.
	if snapshot.ReExplanationCount >= s.maxReExplanations {
		subtopics, err := s.proposeSubtopics(ctx, snapshot, score)
		if err != nil {
			return nil, err
		}
		return s.applySplit(ctx, snapshot, score, subtopics, result)
	}

	lesson, explEmb, err := s.adaptedLesson(ctx, snapshot, strategyFor(intervention))
	if err != nil {
		return nil, err
	}
	return s.applyReExplanation(ctx, snapshot, score, lesson, explEmb, strategyFor(intervention), result)
}

type TeachBackInput struct {
	SessionID   uuid.UUID
	Explanation string
}

// TeachBackResult is the outcome of a teach-back attempt.
type TeachBackResult struct {
	Session        *domain.LearningSession
	Evaluation     *domain.TeachBackEvaluation
	Mastered       bool
	NewExplanation string
	Question       string
	SplitSessions  []*domain.LearningSession
}

// SubmitTeachBack has the learner explain the topic back. Passing all three
// evaluation dimensions completes the session as mastered and commits the
// mastery triple: graph update, XP awards, session completion. Each step is
// idempotent so a failed commit can be retried without double-awarding.
func (s *SessionService) SubmitTeachBack(ctx context.Context, in TeachBackInput) (*TeachBackResult, error) {
	if strings.TrimSpace(in.Explanation) == "" {
		return nil, fmt.Errorf("%w: explanation is required", ErrInvalidInput)
	}

	snapshot, err := s.lockedSnapshot(ctx, in.SessionID, EventTeachBackPassed)
	if err != nil {
		return nil, err
	}

	var eval *domain.TeachBackEvaluation
	err = s.withRetry(ctx, "evaluate teach-back", func() error {
		var evalErr error
		eval, evalErr = s.generator.EvaluateTeachBack(ctx, snapshot.TopicID, in.Explanation)
		return evalErr
	})
	if err != nil {
		return nil, err
	}

	result := &TeachBackResult{Evaluation: eval}

	if eval.Passed(s.teachBackThreshold) {
		return s.applyMastery(ctx, snapshot, result)
	}

	if snapshot.ReExplanationCount >= s.maxReExplanations {
		subtopics, err := s.proposeSubtopics(ctx, snapshot, -1)
		if err != nil {
			return nil, err
		}
		rr := &ResponseResult{}
		if _, err := s.applySplit(ctx, snapshot, -1, subtopics, rr); err != nil {
			return nil, err
		}
		result.Session = rr.Session
		result.SplitSessions = rr.SplitSessions
		return result, nil
	}

	lesson, explEmb, err := s.adaptedLesson(ctx, snapshot, domain.StrategyTargeted)
	if err != nil {
		return nil, err
	}
	return s.applyTeachBackRetry(ctx, snapshot, lesson, explEmb, result)
}

// lockedSnapshot takes the session lock long enough to load the session and
// verify the event is legal in its current state, then returns a copy.
func (s *SessionService) lockedSnapshot(ctx context.Context, id uuid.UUID, event TransitionEvent) (*domain.LearningSession, error) {
	unlock := s.locks.acquire(id)
	defer unlock()

	sess, err := s.sessionStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() {
		return nil, ErrSessionComplete
	}
	if _, err := NextState(sess.State, event); err != nil {
		return nil, err
	}

	snapshot := *sess
	return &snapshot, nil
}

// reloadCurrent re-reads a session under the already-held lock and rejects
// the apply if anyone advanced it since the snapshot was taken.
func (s *SessionService) reloadCurrent(ctx context.Context, snapshot *domain.LearningSession) (*domain.LearningSession, error) {
	cur, err := s.sessionStore.GetByID(ctx, snapshot.ID)
	if err != nil {
		return nil, err
	}
	if cur.TransitionSeq != snapshot.TransitionSeq {
		s.logger.Info("discarding stale transition result",
			zap.String("session_id", snapshot.ID.String()),
			zap.Int64("expected_seq", snapshot.TransitionSeq),
			zap.Int64("actual_seq", cur.TransitionSeq))
		return nil, ErrStaleTransition
	}
	return cur, nil
}

func (s *SessionService) applyCorrectResponse(ctx context.Context, snapshot *domain.LearningSession, score float64, result *ResponseResult) (*ResponseResult, error) {
	unlock := s.locks.acquire(snapshot.ID)
	defer unlock()

	cur, err := s.reloadCurrent(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	next, err := advance(cur.State,
		EventResponseSubmitted, EventResponseScored, EventConfusionScored, EventAdvanceToTeachBack)
	if err != nil {
		return nil, err
	}

	attempts := cur.ComprehensionAttempts
	cur.State = next
	cur.ConfusionScores = append(cur.ConfusionScores, score)
	if err := s.updateSession(ctx, cur); err != nil {
		return nil, err
	}

	switch attempts {
	case 0:
		s.award(ctx, cur, domain.ActivityCheckPassedFirst, false)
	case 1:
		s.award(ctx, cur, domain.ActivityCheckPassedSecond, false)
	}

	result.Session = cur
	return result, nil
}

func (s *SessionService) applyReExplanation(ctx context.Context, snapshot *domain.LearningSession, score float64, lesson *domain.GeneratedLesson, explEmb []float32, strategy domain.ExplanationStrategy, result *ResponseResult) (*ResponseResult, error) {
	answerVec, err := s.embedder.Embed(ctx, lesson.ExpectedAnswer)
	if err != nil {
		return nil, fmt.Errorf("embed expected answer: %w", err)
	}

	unlock := s.locks.acquire(snapshot.ID)
	defer unlock()

	cur, err := s.reloadCurrent(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	next, err := advance(cur.State,
		EventResponseSubmitted, EventResponseScored, EventConfusionScored,
		EventReExplain, EventExplanationDelivered)
	if err != nil {
		return nil, err
	}

	cur.State = next
	cur.ComprehensionAttempts++
	cur.ReExplanationCount++
	cur.PerfectSession = false
	cur.ConfusionScores = append(cur.ConfusionScores, score)
	cur.CurrentQuestion = lesson.Question
	cur.ExpectedAnswer = lesson.ExpectedAnswer
	cur.ExpectedAnswerVector = answerVec
	if err := s.updateSession(ctx, cur); err != nil {
		return nil, err
	}

	s.appendExplanation(ctx, cur.ID, strategy, lesson.Explanation, explEmb)
	s.award(ctx, cur, domain.ActivityExplanationCompleted, false)

	result.Session = cur
	result.NewExplanation = lesson.Explanation
	result.Question = lesson.Question
	return result, nil
}

// applyTeachBackRetry sends a learner who failed teach-back through a
// targeted re-explanation and back to a comprehension check.
func (s *SessionService) applyTeachBackRetry(ctx context.Context, snapshot *domain.LearningSession, lesson *domain.GeneratedLesson, explEmb []float32, result *TeachBackResult) (*TeachBackResult, error) {
	answerVec, err := s.embedder.Embed(ctx, lesson.ExpectedAnswer)
	if err != nil {
		return nil, fmt.Errorf("embed expected answer: %w", err)
	}

	unlock := s.locks.acquire(snapshot.ID)
	defer unlock()

	cur, err := s.reloadCurrent(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	next, err := advance(cur.State, EventTeachBackFailed, EventExplanationDelivered)
	if err != nil {
		return nil, err
	}

	cur.State = next
	cur.ReExplanationCount++
	cur.PerfectSession = false
	cur.CurrentQuestion = lesson.Question
	cur.ExpectedAnswer = lesson.ExpectedAnswer
	cur.ExpectedAnswerVector = answerVec
	if err := s.updateSession(ctx, cur); err != nil {
		return nil, err
	}

	s.appendExplanation(ctx, cur.ID, domain.StrategyTargeted, lesson.Explanation, explEmb)
	s.award(ctx, cur, domain.ActivityExplanationCompleted, false)

	result.Session = cur
	result.NewExplanation = lesson.Explanation
	result.Question = lesson.Question
	return result, nil
}

// applyMastery commits the mastery triple. The graph upsert is monotonic, the
// XP awards are deduplicated by the award ledger, and the session write is
// last, so a retry after a partial failure converges on the same end state.
func (s *SessionService) applyMastery(ctx context.Context, snapshot *domain.LearningSession, result *TeachBackResult) (*TeachBackResult, error) {
	unlock := s.locks.acquire(snapshot.ID)
	defer unlock()

	cur, err := s.reloadCurrent(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	next, err := advance(cur.State, EventTeachBackPassed, EventMasteryConfirmed)
	if err != nil {
		return nil, err
	}

	if err := s.graphStore.Upsert(ctx, &domain.KnowledgeGraphNode{
		UserID:            cur.UserID,
		TopicID:           cur.TopicID,
		Status:            domain.NodeMastered,
		MasteryPercentage: 100,
	}); err != nil {
		return nil, fmt.Errorf("mark topic mastered: %w", err)
	}

	if err := s.awardStrict(ctx, cur, domain.ActivityTeachBackSuccess, false); err != nil {
		return nil, err
	}
	if err := s.awardStrict(ctx, cur, domain.ActivityTopicMastered, cur.PerfectSession); err != nil {
		return nil, err
	}

	reason := domain.CompletionMastered
	cur.State = next
	cur.CompletionReason = &reason
	if err := s.updateSession(ctx, cur); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, domain.NotifyEvent{
		Type:   notify.EventGraphUpdated,
		UserID: cur.UserID,
		Payload: map[string]any{
			"topic_id": cur.TopicID,
			"status":   string(domain.NodeMastered),
		},
	})

	result.Session = cur
	result.Mastered = true
	return result, nil
}

// applySplit completes the parent as split and starts one child session per
// sub-topic. Child failures are logged, not fatal; the learner can retry a
// missing sub-topic by starting it directly.
func (s *SessionService) applySplit(ctx context.Context, snapshot *domain.LearningSession, score float64, subtopics []string, result *ResponseResult) (*ResponseResult, error) {
	unlock := s.locks.acquire(snapshot.ID)

	cur, err := s.reloadCurrent(ctx, snapshot)
	if err != nil {
		unlock()
		return nil, err
	}

	var next domain.SessionState
	if cur.State == domain.StateTeachBack {
		next, err = NextState(cur.State, EventSplitTopic)
	} else {
		next, err = advance(cur.State,
			EventResponseSubmitted, EventResponseScored, EventConfusionScored, EventSplitTopic)
	}
	if err != nil {
		unlock()
		return nil, err
	}

	reason := domain.CompletionSplit
	cur.State = next
	cur.CompletionReason = &reason
	cur.PerfectSession = false
	if score >= 0 {
		cur.ComprehensionAttempts++
		cur.ConfusionScores = append(cur.ConfusionScores, score)
	}
	if err := s.updateSession(ctx, cur); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	childDifficulty := cur.TopicDifficulty - 1
	if childDifficulty < 1 {
		childDifficulty = 1
	}
	var children []*domain.LearningSession
	for _, sub := range subtopics {
		child, err := s.Start(ctx, StartSessionInput{
			UserID:          cur.UserID,
			TopicID:         sub,
			Difficulty:      childDifficulty,
			ParentSessionID: &cur.ID,
		})
		if err != nil {
			s.logger.Warn("failed to start sub-topic session",
				zap.String("parent_session_id", cur.ID.String()),
				zap.String("sub_topic", sub),
				zap.Error(err))
			continue
		}
		children = append(children, child.Session)
	}

	s.notifier.Notify(ctx, domain.NotifyEvent{
		Type:   notify.EventSessionSplit,
		UserID: cur.UserID,
		Payload: map[string]any{
			"session_id": cur.ID.String(),
			"topic_id":   cur.TopicID,
			"sub_topics": subtopics,
		},
	})

	result.Session = cur
	result.SplitSessions = children
	return result, nil
}

func (s *SessionService) updateSession(ctx context.Context, sess *domain.LearningSession) error {
	err := s.sessionStore.Update(ctx, sess)
	if errors.Is(err, store.ErrVersionConflict) {
		return ErrStaleTransition
	}
	return err
}

// adaptedLesson generates a re-explanation with the given strategy, enforcing
// novelty against the previous explanation's embedding. Up to noveltyRetries
// forced-different regenerations are attempted; the last candidate is
// accepted regardless.
func (s *SessionService) adaptedLesson(ctx context.Context, sess *domain.LearningSession, strategy domain.ExplanationStrategy) (*domain.GeneratedLesson, []float32, error) {
	level := s.learnerLevel(ctx, sess.UserID)
	contextBlock := s.groundingContext(ctx, sess.TopicID, level)

	var priorContent string
	var priorEmb []float32
	prior, err := s.sessionStore.LatestExplanation(ctx, sess.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("load prior explanation: %w", err)
	}
	if prior != nil {
		priorContent = prior.Content
		priorEmb = prior.Embedding
	}

	req := domain.GenerationRequest{
		TopicID:          sess.TopicID,
		Strategy:         strategy,
		Context:          contextBlock,
		PriorExplanation: priorContent,
		LearnerLevel:     level,
	}

	var lesson *domain.GeneratedLesson
	if err := s.withRetry(ctx, "generate lesson", func() error {
		var genErr error
		lesson, genErr = s.generator.GenerateLesson(ctx, req)
		return genErr
	}); err != nil {
		return nil, nil, err
	}
	explEmb := s.embedOrNil(ctx, lesson.Explanation)

	for retry := 0; retry < s.noveltyRetries; retry++ {
		if len(priorEmb) == 0 || len(explEmb) == 0 {
			break
		}
		if embedding.CosineSimilarity(explEmb, priorEmb) < s.noveltyThreshold {
			break
		}
		s.logger.Info("re-explanation too similar to predecessor, forcing different approach",
			zap.String("session_id", sess.ID.String()),
			zap.Int("retry", retry+1))
		req.Strategy = domain.StrategyForcedDifferent
		var fresh *domain.GeneratedLesson
		if err := s.withRetry(ctx, "regenerate lesson", func() error {
			var genErr error
			fresh, genErr = s.generator.GenerateLesson(ctx, req)
			return genErr
		}); err != nil {
			break
		}
		lesson = fresh
		explEmb = s.embedOrNil(ctx, lesson.Explanation)
	}

	return lesson, explEmb, nil
}

func (s *SessionService) proposeSubtopics(ctx context.Context, sess *domain.LearningSession, score float64) ([]string, error) {
	summary := fmt.Sprintf("%d re-explanations, %d comprehension attempts", sess.ReExplanationCount, sess.ComprehensionAttempts)
	if score >= 0 {
		summary = fmt.Sprintf("%s, latest confusion score %.2f", summary, score)
	}

	var subtopics []string
	err := s.withRetry(ctx, "propose sub-topics", func() error {
		var genErr error
		subtopics, genErr = s.generator.ProposeSubtopics(ctx, sess.TopicID, summary)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	if len(subtopics) == 0 {
		return nil, fmt.Errorf("%w: provider returned no sub-topics", ErrGenerationUnavailable)
	}
	return subtopics, nil
}

// withRetry runs a generation call with exponential backoff. The final error
// wraps ErrGenerationUnavailable so callers surface it uniformly.
func (s *SessionService) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.genBackoff
	var lastErr error
	for attempt := 0; attempt < s.genAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := fn(); err != nil {
			lastErr = err
			s.logger.Warn("generation attempt failed",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrGenerationUnavailable, op, lastErr)
}

func (s *SessionService) learnerLevel(ctx context.Context, userID uuid.UUID) int {
	p, err := s.profileStore.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load learner profile", zap.Error(err))
		}
		return 1
	}
	return p.Level
}

// groundingContext is best-effort; retrieval failures degrade to an
// ungrounded lesson rather than blocking the loop.
func (s *SessionService) groundingContext(ctx context.Context, topicID string, level int) string {
	block, err := s.retrieval.ContextFor(ctx, topicID, level)
	if err != nil {
		s.logger.Warn("knowledge retrieval failed",
			zap.String("topic_id", topicID),
			zap.Error(err))
		return ""
	}
	return block
}

func (s *SessionService) embedOrNil(ctx context.Context, text string) []float32 {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed", zap.Error(err))
		return nil
	}
	return emb
}

func (s *SessionService) appendExplanation(ctx context.Context, sessionID uuid.UUID, strategy domain.ExplanationStrategy, content string, emb []float32) {
	e := &domain.Explanation{
		SessionID: sessionID,
		Strategy:  strategy,
		Content:   content,
		Embedding: emb,
	}
	if err := s.sessionStore.AppendExplanation(ctx, e); err != nil {
		s.logger.Warn("failed to record explanation",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
	}
}

// award applies an XP event, logging failures without failing the learning
// flow.
func (s *SessionService) award(ctx context.Context, sess *domain.LearningSession, activity domain.ActivityType, perfect bool) {
	if err := s.awardStrict(ctx, sess, activity, perfect); err != nil {
		s.logger.Warn("failed to apply xp award",
			zap.String("session_id", sess.ID.String()),
			zap.String("activity", string(activity)),
			zap.Error(err))
	}
}

// awardStrict applies an XP event and propagates failures. The transition ID
// is derived from the session's transition counter, so a retried step reuses
// the same ledger key and cannot double-award.
func (s *SessionService) awardStrict(ctx context.Context, sess *domain.LearningSession, activity domain.ActivityType, perfect bool) error {
	_, err := s.gamification.Apply(ctx, domain.ActivityEvent{
		UserID:         sess.UserID,
		Activity:       activity,
		SessionID:      sess.ID,
		TransitionID:   transitionID(sess.ID, activity, sess.TransitionSeq),
		PerfectSession: perfect,
	})
	return err
}

// transitionID deterministically names one award slot per (session, activity,
// transition counter), keying the idempotency ledger.
func transitionID(sessionID uuid.UUID, activity domain.ActivityType, seq int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%s:%d", sessionID, activity, seq)))
}

func strategyFor(intervention scoring.Intervention) domain.ExplanationStrategy {
	switch intervention {
	case scoring.InterventionSimplify:
		return domain.StrategySimplified
	case scoring.InterventionBreakdown:
		return domain.StrategySimplified
	default:
		return domain.StrategyHint
	}
}
