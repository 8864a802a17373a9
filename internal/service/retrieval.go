package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/scoring"
)

// searchTopK is how many candidates the vector search returns before ranking
// narrows them down.
const searchTopK = 10

// RetrievalService assembles grounding context for lesson generation from the
// knowledge chunk corpus.
type RetrievalService struct {
	knowledgeStore  domain.KnowledgeStore
	embeddingClient domain.EmbeddingClient
	logger          *zap.Logger

	now func() time.Time
}

func NewRetrievalService(ks domain.KnowledgeStore, ec domain.EmbeddingClient, logger *zap.Logger) *RetrievalService {
	return &RetrievalService{
		knowledgeStore:  ks,
		embeddingClient: ec,
		logger:          logger,
		now:             time.Now,
	}
}

// ContextFor returns ranked chunk contents for a topic, joined into a single
// prompt-ready block. An empty corpus is not an error; generation proceeds
// without grounding.
func (s *RetrievalService) ContextFor(ctx context.Context, topicID string, learnerLevel int) (string, error) {
	emb, err := s.embeddingClient.Embed(ctx, topicID)
	if err != nil {
		return "", fmt.Errorf("embed retrieval query: %w", err)
	}

	candidates, err := s.knowledgeStore.Search(ctx, emb, searchTopK)
	if err != nil {
		return "", fmt.Errorf("search knowledge chunks: %w", err)
	}

	ranked := scoring.RankChunks(candidates, learnerLevel, s.now())
	if len(ranked) == 0 {
		s.logger.Debug("no knowledge chunks cleared the similarity floor",
			zap.String("topic_id", topicID),
			zap.Int("candidates", len(candidates)))
		return "", nil
	}

	parts := make([]string, 0, len(ranked))
	for _, rc := range ranked {
		parts = append(parts, rc.Content)
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}

// Ingest embeds and stores one knowledge chunk.
func (s *RetrievalService) Ingest(ctx context.Context, topicID, content string, difficulty int) (*domain.KnowledgeChunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("chunk content is empty")
	}

	emb, err := s.embeddingClient.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed chunk: %w", err)
	}

	chunk := &domain.KnowledgeChunk{
		TopicID:    topicID,
		Content:    content,
		Embedding:  emb,
		Difficulty: difficulty,
	}
	if err := s.knowledgeStore.Create(ctx, chunk); err != nil {
		return nil, fmt.Errorf("store chunk: %w", err)
	}
	return chunk, nil
}
