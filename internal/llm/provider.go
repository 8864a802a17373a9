package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/socratic-labs/socratic/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// NewClient creates a generator client based on the provider name.
// Returns an error if the provider is unknown or the API key is empty (except for mock).
func NewClient(provider, apiKey string) (domain.Generator, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIClient(apiKey), nil

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for Anthropic provider")
		}
		return NewAnthropicClient(apiKey), nil

	case ProviderGemini:
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiClient(apiKey), nil

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown generator provider: %s (valid options: openai, anthropic, gemini, mock)", provider)
	}
}

func directiveFor(strategy domain.ExplanationStrategy) string {
	switch strategy {
	case domain.StrategyHint:
		return directiveHint
	case domain.StrategySimplified:
		return directiveSimplified
	case domain.StrategyTargeted:
		return directiveTargeted
	case domain.StrategyForcedDifferent:
		return directiveForced
	default:
		return directiveDefault
	}
}

func buildLessonPrompt(req domain.GenerationRequest) string {
	context := ""
	if req.Context != "" {
		context = "Reference material:\n" + req.Context + "\n\n"
	}
	prior := ""
	if req.PriorExplanation != "" {
		prior = "Previous explanation given to this learner:\n\"\"\"\n" + req.PriorExplanation + "\n\"\"\"\n\n"
	}
	return fmt.Sprintf(lessonPrompt, req.TopicID, req.LearnerLevel, directiveFor(req.Strategy), context, prior)
}

// stripFences removes a leading/trailing markdown code fence if the model
// wrapped its JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func parseLesson(raw string) (*domain.GeneratedLesson, error) {
	var lesson domain.GeneratedLesson
	if err := json.Unmarshal([]byte(stripFences(raw)), &lesson); err != nil {
		return nil, fmt.Errorf("parse lesson response: %w", err)
	}
	if lesson.Explanation == "" || lesson.Question == "" || lesson.ExpectedAnswer == "" {
		return nil, fmt.Errorf("lesson response missing fields")
	}
	return &lesson, nil
}

func parseEvaluation(raw string) (*domain.TeachBackEvaluation, error) {
	var eval domain.TeachBackEvaluation
	if err := json.Unmarshal([]byte(stripFences(raw)), &eval); err != nil {
		return nil, fmt.Errorf("parse teach-back evaluation: %w", err)
	}
	for _, v := range []float64{eval.Completeness, eval.Accuracy, eval.Clarity} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("teach-back score out of range: %f", v)
		}
	}
	return &eval, nil
}

func parseSubtopics(raw string) ([]string, error) {
	var subtopics []string
	if err := json.Unmarshal([]byte(stripFences(raw)), &subtopics); err != nil {
		return nil, fmt.Errorf("parse subtopic response: %w", err)
	}
	if len(subtopics) == 0 {
		return nil, fmt.Errorf("subtopic response is empty")
	}
	return subtopics, nil
}
