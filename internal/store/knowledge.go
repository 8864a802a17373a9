package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/socratic-labs/socratic/internal/domain"
)

type KnowledgeStore struct {
	db *pgxpool.Pool
}

func NewKnowledgeStore(db *pgxpool.Pool) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

func (s *KnowledgeStore) Create(ctx context.Context, c *domain.KnowledgeChunk) error {
	vec := pgvector.NewVector(c.Embedding)

	if c.Difficulty == 0 {
		c.Difficulty = 1
	}

	return s.db.QueryRow(ctx,
		`INSERT INTO knowledge_chunks (topic_id, content, embedding, difficulty)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		c.TopicID, c.Content, vec, c.Difficulty,
	).Scan(&c.ID, &c.CreatedAt)
}

// Search returns the topK nearest chunks by cosine distance with their raw
// similarity. Filtering and composite ranking happen in the retrieval
// service, not here.
func (s *KnowledgeStore) Search(ctx context.Context, embedding []float32, topK int) ([]domain.ChunkWithScore, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT id, topic_id, content, difficulty, created_at,
		        1 - (embedding <=> $1) AS similarity
		 FROM knowledge_chunks
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.ChunkWithScore
	for rows.Next() {
		var c domain.ChunkWithScore
		if err := rows.Scan(&c.ID, &c.TopicID, &c.Content, &c.Difficulty, &c.CreatedAt, &c.Similarity); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
