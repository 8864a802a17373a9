package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/socratic-labs/socratic/internal/domain"
	"go.uber.org/zap"
)

// Chain tries an ordered list of generator providers: the primary first,
// then each fallback, per call. The first success wins; all failures are
// joined into one error.
type Chain struct {
	providers []namedProvider
	logger    *zap.Logger
}

type namedProvider struct {
	name   string
	client domain.Generator
}

// NewChain builds a provider chain from a comma-separated provider list,
// e.g. "openai,gemini". Keys are looked up per provider via keyFor.
func NewChain(providerList string, keyFor func(provider string) string, logger *zap.Logger) (*Chain, error) {
	var providers []namedProvider
	for _, name := range strings.Split(providerList, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		client, err := NewClient(name, keyFor(name))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		providers = append(providers, namedProvider{name: name, client: client})
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no generator providers configured")
	}
	return &Chain{providers: providers, logger: logger}, nil
}

// NewChainFromClients wraps already-constructed clients, primary first.
func NewChainFromClients(logger *zap.Logger, clients ...domain.Generator) *Chain {
	chain := &Chain{logger: logger}
	for i, c := range clients {
		chain.providers = append(chain.providers, namedProvider{name: fmt.Sprintf("client-%d", i), client: c})
	}
	return chain
}

func (c *Chain) GenerateLesson(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedLesson, error) {
	var errs []error
	for _, p := range c.providers {
		lesson, err := p.client.GenerateLesson(ctx, req)
		if err == nil {
			return lesson, nil
		}
		c.logger.Warn("generator provider failed, trying next",
			zap.String("provider", p.name),
			zap.String("op", "generate_lesson"),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return nil, errors.Join(errs...)
}

func (c *Chain) EvaluateTeachBack(ctx context.Context, topicID, explanation string) (*domain.TeachBackEvaluation, error) {
	var errs []error
	for _, p := range c.providers {
		eval, err := p.client.EvaluateTeachBack(ctx, topicID, explanation)
		if err == nil {
			return eval, nil
		}
		c.logger.Warn("generator provider failed, trying next",
			zap.String("provider", p.name),
			zap.String("op", "evaluate_teach_back"),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return nil, errors.Join(errs...)
}

func (c *Chain) ProposeSubtopics(ctx context.Context, topicID, confusionSummary string) ([]string, error) {
	var errs []error
	for _, p := range c.providers {
		subtopics, err := p.client.ProposeSubtopics(ctx, topicID, confusionSummary)
		if err == nil {
			return subtopics, nil
		}
		c.logger.Warn("generator provider failed, trying next",
			zap.String("provider", p.name),
			zap.String("op", "propose_subtopics"),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
	}
	return nil, errors.Join(errs...)
}
