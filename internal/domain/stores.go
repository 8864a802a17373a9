package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SessionStore interface {
	Create(ctx context.Context, s *LearningSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*LearningSession, error)
	Update(ctx context.Context, s *LearningSession) error
	AppendExplanation(ctx context.Context, e *Explanation) error
	LatestExplanation(ctx context.Context, sessionID uuid.UUID) (*Explanation, error)
	ListExplanations(ctx context.Context, sessionID uuid.UUID) ([]Explanation, error)
	ListIdleSince(ctx context.Context, cutoff time.Time, limit int) ([]LearningSession, error)
}

// XPAward is the ledger row recorded atomically with a profile update.
// The (SessionID, TransitionID) pair makes re-application a no-op.
type XPAward struct {
	SessionID    uuid.UUID
	TransitionID uuid.UUID
	Activity     ActivityType
	XPDelta      int
}

type ProfileStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*LearnerProfile, error)
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*LearnerProfile, error)
	// ApplyAward writes the award ledger row and the updated profile in one
	// transaction, guarded by the profile's previous version. Returns
	// ErrVersionConflict when the version moved, ErrDuplicateAward when the
	// ledger row already exists.
	ApplyAward(ctx context.Context, p *LearnerProfile, prevVersion int64, award *XPAward) error
}

type AchievementStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Achievement, error)
	// Upsert creates or advances an achievement row. Rows with completed=true
	// are never modified.
	Upsert(ctx context.Context, a *Achievement) error
}

type GraphStore interface {
	Get(ctx context.Context, userID uuid.UUID, topicID string) (*KnowledgeGraphNode, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]KnowledgeGraphNode, error)
	// Upsert never lowers mastery_percentage and never regresses status from
	// mastered.
	Upsert(ctx context.Context, n *KnowledgeGraphNode) error
	CountMastered(ctx context.Context, userID uuid.UUID) (int, error)
}

type KnowledgeStore interface {
	Create(ctx context.Context, c *KnowledgeChunk) error
	Search(ctx context.Context, embedding []float32, topK int) ([]ChunkWithScore, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenerationRequest carries everything a generator needs to produce a lesson.
type GenerationRequest struct {
	TopicID          string
	Strategy         ExplanationStrategy
	Context          string
	PriorExplanation string
	LearnerLevel     int
}

// GeneratedLesson is an explanation paired with a comprehension question and
// its expected answer.
type GeneratedLesson struct {
	Explanation    string `json:"explanation"`
	Question       string `json:"question"`
	ExpectedAnswer string `json:"expected_answer"`
}

// TeachBackEvaluation scores a learner's restatement of a concept.
type TeachBackEvaluation struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Clarity      float64 `json:"clarity"`
	Feedback     string  `json:"feedback"`
}

// Passed reports whether every dimension clears the mastery bar.
func (e *TeachBackEvaluation) Passed(threshold float64) bool {
	return e.Completeness > threshold && e.Accuracy > threshold && e.Clarity > threshold
}

type Generator interface {
	GenerateLesson(ctx context.Context, req GenerationRequest) (*GeneratedLesson, error)
	EvaluateTeachBack(ctx context.Context, topicID, explanation string) (*TeachBackEvaluation, error)
	ProposeSubtopics(ctx context.Context, topicID, confusionSummary string) ([]string, error)
}

// NotifyEvent is a best-effort realtime update pushed to the UI.
type NotifyEvent struct {
	Type    string         `json:"type"`
	UserID  uuid.UUID      `json:"user_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event NotifyEvent)
}
