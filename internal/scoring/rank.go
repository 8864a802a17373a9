package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/socratic-labs/socratic/internal/domain"
)

// Retrieval ranking constants.
const (
	MinRetrievalSimilarity = 0.7
	RankWeightSimilarity   = 0.6
	RankWeightRecency      = 0.3
	RankWeightLevelMatch   = 0.1
	MaxContextChunks       = 3

	// recencyDecay controls the exponential age falloff of the recency
	// signal, per hour.
	recencyDecay = 0.001

	// levelSpread is the difficulty distance at which the level-match
	// signal bottoms out.
	levelSpread = 5.0
)

// RankedChunk is a retrieved chunk with its composite rank.
type RankedChunk struct {
	domain.ChunkWithScore
	Rank float64 `json:"rank"`
}

// CompositeRank combines similarity, recency, and learner-level match into
// the retrieval ranking score.
func CompositeRank(similarity, recency, levelMatch float64) float64 {
	return RankWeightSimilarity*similarity +
		RankWeightRecency*recency +
		RankWeightLevelMatch*levelMatch
}

// RecencyScore decays exponentially with chunk age.
func RecencyScore(createdAt, now time.Time) float64 {
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-recencyDecay * ageHours)
}

// LevelMatchScore is 1.0 when chunk difficulty matches the learner's level
// and falls linearly to 0 at levelSpread levels of distance.
func LevelMatchScore(difficulty, learnerLevel int) float64 {
	dist := math.Abs(float64(difficulty - learnerLevel))
	if dist >= levelSpread {
		return 0
	}
	return 1 - dist/levelSpread
}

// RankChunks filters out chunks below the similarity floor, ranks the rest
// by composite score, and truncates to the context budget.
func RankChunks(chunks []domain.ChunkWithScore, learnerLevel int, now time.Time) []RankedChunk {
	ranked := make([]RankedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Similarity <= MinRetrievalSimilarity {
			continue
		}
		rank := CompositeRank(
			c.Similarity,
			RecencyScore(c.CreatedAt, now),
			LevelMatchScore(c.Difficulty, learnerLevel),
		)
		ranked = append(ranked, RankedChunk{ChunkWithScore: c, Rank: rank})
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Rank > ranked[j].Rank
	})

	if len(ranked) > MaxContextChunks {
		ranked = ranked[:MaxContextChunks]
	}
	return ranked
}
