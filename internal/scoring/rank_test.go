package scoring

import (
	"testing"
	"time"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(similarity float64, difficulty int, age time.Duration, now time.Time) domain.ChunkWithScore {
	return domain.ChunkWithScore{
		KnowledgeChunk: domain.KnowledgeChunk{
			Content:    "chunk",
			Difficulty: difficulty,
			CreatedAt:  now.Add(-age),
		},
		Similarity: similarity,
	}
}

func TestCompositeRankWeights(t *testing.T) {
	assert.InDelta(t, 1.0, CompositeRank(1, 1, 1), 1e-9)
	assert.InDelta(t, 0.6, CompositeRank(1, 0, 0), 1e-9)
	assert.InDelta(t, 0.3, CompositeRank(0, 1, 0), 1e-9)
	assert.InDelta(t, 0.1, CompositeRank(0, 0, 1), 1e-9)
}

func TestRankChunksFiltersBelowSimilarityFloor(t *testing.T) {
	now := time.Now()
	chunks := []domain.ChunkWithScore{
		chunk(0.95, 3, time.Hour, now),
		chunk(0.70, 3, time.Hour, now), // at the floor, excluded
		chunk(0.42, 3, time.Hour, now),
	}

	ranked := RankChunks(chunks, 3, now)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.95, ranked[0].Similarity, 1e-9)
}

func TestRankChunksTruncatesToTopThree(t *testing.T) {
	now := time.Now()
	var chunks []domain.ChunkWithScore
	for i := 0; i < 6; i++ {
		chunks = append(chunks, chunk(0.75+float64(i)*0.03, 3, time.Hour, now))
	}

	ranked := RankChunks(chunks, 3, now)
	require.Len(t, ranked, MaxContextChunks)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Rank, ranked[i].Rank, "descending rank order")
	}
	// Highest similarity wins when recency and level match are equal.
	assert.InDelta(t, 0.90, ranked[0].Similarity, 1e-9)
}

func TestRankChunksPrefersFresherAndLevelMatched(t *testing.T) {
	now := time.Now()
	stale := chunk(0.8, 8, 90*24*time.Hour, now)
	fresh := chunk(0.8, 3, time.Hour, now)

	ranked := RankChunks([]domain.ChunkWithScore{stale, fresh}, 3, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, 3, ranked[0].Difficulty, "fresh level-matched chunk ranks first")
}

func TestLevelMatchScore(t *testing.T) {
	assert.InDelta(t, 1.0, LevelMatchScore(3, 3), 1e-9)
	assert.InDelta(t, 0.8, LevelMatchScore(4, 3), 1e-9)
	assert.InDelta(t, 0.0, LevelMatchScore(9, 3), 1e-9)
}

func TestRecencyScoreDecays(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 1.0, RecencyScore(now, now), 1e-9)
	older := RecencyScore(now.Add(-30*24*time.Hour), now)
	newer := RecencyScore(now.Add(-24*time.Hour), now)
	assert.Less(t, older, newer)
	assert.Greater(t, older, 0.0)
}
