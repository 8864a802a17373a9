package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

const mockDimensions = 64

// MockClient produces deterministic pseudo-embeddings for testing. Identical
// texts map to identical vectors; set Fixed to force a specific vector, or
// Err to force a failure.
type MockClient struct {
	Fixed []float32
	Err   error

	// EmbedCalls records every input for assertions.
	EmbedCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Fixed != nil {
		return c.Fixed, nil
	}

	// Seed a unit vector from the text hash so equal texts are identical
	// and different texts are (almost always) dissimilar.
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, mockDimensions)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
