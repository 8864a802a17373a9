package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeStatus is a topic's progress status in a learner's knowledge graph.
// Status never regresses from mastered.
type NodeStatus string

const (
	NodeNotStarted NodeStatus = "not_started"
	NodeLearning   NodeStatus = "learning"
	NodeMastered   NodeStatus = "mastered"
)

func ValidNodeStatus(s string) bool {
	switch NodeStatus(s) {
	case NodeNotStarted, NodeLearning, NodeMastered:
		return true
	}
	return false
}

// KnowledgeGraphNode is one (user, topic) entry in the knowledge graph.
// MasteryPercentage is monotonically non-decreasing within a session.
type KnowledgeGraphNode struct {
	UserID            uuid.UUID  `json:"user_id"`
	TopicID           string     `json:"topic_id"`
	Status            NodeStatus `json:"status"`
	MasteryPercentage int        `json:"mastery_percentage"`
	TimesReviewed     int        `json:"times_reviewed"`
	LastReviewedAt    *time.Time `json:"last_reviewed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// KnowledgeChunk is a retrievable piece of source material with its embedding.
type KnowledgeChunk struct {
	ID         uuid.UUID `json:"id"`
	TopicID    string    `json:"topic_id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Difficulty int       `json:"difficulty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChunkWithScore is a retrieved chunk with its raw cosine similarity.
type ChunkWithScore struct {
	KnowledgeChunk
	Similarity float64 `json:"similarity"`
}
