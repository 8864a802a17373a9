package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/socratic-labs/socratic/internal/domain"
)

type GraphStore struct {
	db *pgxpool.Pool
}

func NewGraphStore(db *pgxpool.Pool) *GraphStore {
	return &GraphStore{db: db}
}

func (s *GraphStore) Get(ctx context.Context, userID uuid.UUID, topicID string) (*domain.KnowledgeGraphNode, error) {
	n := &domain.KnowledgeGraphNode{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, topic_id, status, mastery_percentage, times_reviewed, last_reviewed_at, created_at, updated_at
		 FROM knowledge_graph_nodes
		 WHERE user_id = $1 AND topic_id = $2`,
		userID, topicID,
	).Scan(&n.UserID, &n.TopicID, &n.Status, &n.MasteryPercentage, &n.TimesReviewed,
		&n.LastReviewedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

func (s *GraphStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.KnowledgeGraphNode, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, topic_id, status, mastery_percentage, times_reviewed, last_reviewed_at, created_at, updated_at
		 FROM knowledge_graph_nodes
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.KnowledgeGraphNode
	for rows.Next() {
		var n domain.KnowledgeGraphNode
		if err := rows.Scan(&n.UserID, &n.TopicID, &n.Status, &n.MasteryPercentage,
			&n.TimesReviewed, &n.LastReviewedAt, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Upsert enforces monotonicity in SQL: mastery never decreases and a
// mastered node never regresses to learning.
func (s *GraphStore) Upsert(ctx context.Context, n *domain.KnowledgeGraphNode) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO knowledge_graph_nodes (user_id, topic_id, status, mastery_percentage, times_reviewed, last_reviewed_at)
		 VALUES ($1, $2, $3, $4, 1, NOW())
		 ON CONFLICT (user_id, topic_id) DO UPDATE
		 SET status = CASE WHEN knowledge_graph_nodes.status = 'mastered' THEN 'mastered' ELSE EXCLUDED.status END,
		     mastery_percentage = GREATEST(knowledge_graph_nodes.mastery_percentage, EXCLUDED.mastery_percentage),
		     times_reviewed = knowledge_graph_nodes.times_reviewed + 1,
		     last_reviewed_at = NOW(),
		     updated_at = NOW()
		 RETURNING status, mastery_percentage, times_reviewed, created_at, updated_at`,
		n.UserID, n.TopicID, n.Status, n.MasteryPercentage,
	).Scan(&n.Status, &n.MasteryPercentage, &n.TimesReviewed, &n.CreatedAt, &n.UpdatedAt)
}

func (s *GraphStore) CountMastered(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_graph_nodes WHERE user_id = $1 AND status = 'mastered'`,
		userID,
	).Scan(&count)
	return count, err
}
