package llm

import (
	"context"
	"fmt"

	"github.com/socratic-labs/socratic/internal/domain"
)

// MockClient is a configurable generator for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	LessonResponse *domain.GeneratedLesson
	LessonError    error
	// LessonResponses, when non-empty, is consumed one entry per call
	// before falling back to LessonResponse.
	LessonResponses []*domain.GeneratedLesson

	EvaluateResponse *domain.TeachBackEvaluation
	EvaluateError    error

	SubtopicsResponse []string
	SubtopicsError    error

	// Call tracking for assertions
	LessonCalls    []domain.GenerationRequest
	EvaluateCalls  []string
	SubtopicsCalls []string
}

func NewMockClient() *MockClient {
	return &MockClient{
		LessonResponse: &domain.GeneratedLesson{
			Explanation:    "Mock explanation of the topic.",
			Question:       "What is the core idea?",
			ExpectedAnswer: "The core idea is the mock concept.",
		},
		EvaluateResponse: &domain.TeachBackEvaluation{
			Completeness: 0.9,
			Accuracy:     0.9,
			Clarity:      0.9,
			Feedback:     "Solid explanation.",
		},
		SubtopicsResponse: []string{"mock-subtopic-a", "mock-subtopic-b"},
	}
}

func (c *MockClient) GenerateLesson(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedLesson, error) {
	c.LessonCalls = append(c.LessonCalls, req)
	if c.LessonError != nil {
		return nil, c.LessonError
	}
	if len(c.LessonResponses) > 0 {
		next := c.LessonResponses[0]
		c.LessonResponses = c.LessonResponses[1:]
		return next, nil
	}
	if c.LessonResponse != nil {
		return c.LessonResponse, nil
	}
	return nil, fmt.Errorf("mock lesson response unset")
}

func (c *MockClient) EvaluateTeachBack(ctx context.Context, topicID, explanation string) (*domain.TeachBackEvaluation, error) {
	c.EvaluateCalls = append(c.EvaluateCalls, explanation)
	if c.EvaluateError != nil {
		return nil, c.EvaluateError
	}
	return c.EvaluateResponse, nil
}

func (c *MockClient) ProposeSubtopics(ctx context.Context, topicID, confusionSummary string) ([]string, error) {
	c.SubtopicsCalls = append(c.SubtopicsCalls, topicID)
	if c.SubtopicsError != nil {
		return nil, c.SubtopicsError
	}
	return c.SubtopicsResponse, nil
}
