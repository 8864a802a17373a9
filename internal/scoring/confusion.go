package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Confusion score weights. They sum to 1.0 so the composite stays in [0,1].
const (
	WeightSimilarity   = 0.4
	WeightResponseTime = 0.2
	WeightAttempts     = 0.3
	WeightSentiment    = 0.1

	// AttemptSaturation is the incorrect-attempt count at which the
	// attempts signal saturates at 1.0.
	AttemptSaturation = 3
)

var ErrInvalidSignal = errors.New("invalid confusion signal")

// ConfusionSignal holds the four raw signals for one evaluation. It is
// transient: only the resulting score is retained on the session.
type ConfusionSignal struct {
	// SemanticSimilarity is the cosine similarity between the learner's
	// response embedding and the expected-answer embedding, in [0,1].
	SemanticSimilarity float64
	ResponseTime       time.Duration
	Baseline           time.Duration
	IncorrectAttempts  int
	// Sentiment is the frustration score for the response text, in [0,1].
	Sentiment float64
}

// ConfusionScore computes the weighted composite confusion score in [0,1].
// It is a pure function: same signal, same score. Malformed signals fail
// with ErrInvalidSignal and are never retried here.
func ConfusionScore(sig ConfusionSignal) (float64, error) {
	if err := sig.validate(); err != nil {
		return 0, err
	}

	score := WeightSimilarity*(1-clamp01(sig.SemanticSimilarity)) +
		WeightResponseTime*timeDeviation(sig.ResponseTime, sig.Baseline) +
		WeightAttempts*math.Min(float64(sig.IncorrectAttempts)/AttemptSaturation, 1.0) +
		WeightSentiment*sig.Sentiment

	return clamp01(score), nil
}

func (sig ConfusionSignal) validate() error {
	switch {
	case math.IsNaN(sig.SemanticSimilarity) || sig.SemanticSimilarity < -1 || sig.SemanticSimilarity > 1:
		return fmt.Errorf("%w: semantic similarity out of range", ErrInvalidSignal)
	case sig.ResponseTime < 0:
		return fmt.Errorf("%w: negative response time", ErrInvalidSignal)
	case sig.Baseline <= 0:
		return fmt.Errorf("%w: baseline must be positive", ErrInvalidSignal)
	case sig.IncorrectAttempts < 0:
		return fmt.Errorf("%w: negative attempt count", ErrInvalidSignal)
	case math.IsNaN(sig.Sentiment) || sig.Sentiment < 0 || sig.Sentiment > 1:
		return fmt.Errorf("%w: sentiment out of range", ErrInvalidSignal)
	}
	return nil
}

// timeDeviation is 0 at or below the baseline and rises linearly with the
// overrun, saturating at 1.0 once the overrun equals the baseline itself
// (twice the allotted time).
func timeDeviation(rt, baseline time.Duration) float64 {
	if rt <= baseline {
		return 0
	}
	over := float64(rt - baseline)
	return math.Min(over/float64(baseline), 1.0)
}

// BaselineFor returns the allowed response-time baseline for a topic
// difficulty in [1,10]. Harder topics get more time before the deviation
// signal starts rising.
func BaselineFor(difficulty int) time.Duration {
	if difficulty < 1 {
		difficulty = 1
	}
	if difficulty > 10 {
		difficulty = 10
	}
	return 20*time.Second + time.Duration(difficulty-1)*10*time.Second
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Intervention is the branching decision derived from a confusion score.
type Intervention string

const (
	InterventionProceed   Intervention = "proceed"
	InterventionHint      Intervention = "hint"
	InterventionSimplify  Intervention = "simplify"
	InterventionBreakdown Intervention = "breakdown"
)

// InterventionFor maps a confusion score onto an intervention. Pure, no side
// effects; the caller owns what happens next.
func InterventionFor(score float64) Intervention {
	switch {
	case score <= 0.3:
		return InterventionProceed
	case score <= 0.5:
		return InterventionHint
	case score <= 0.7:
		return InterventionSimplify
	default:
		return InterventionBreakdown
	}
}

// frustrationTerms are indicator phrases counted by SentimentScore. Matching
// is case-insensitive substring matching over the response text.
var frustrationTerms = []string{
	"confused",
	"confusing",
	"don't get",
	"dont get",
	"don't understand",
	"dont understand",
	"no idea",
	"lost",
	"stuck",
	"frustrat",
	"makes no sense",
	"doesn't make sense",
	"too hard",
	"give up",
	"huh",
	"what??",
	"unclear",
}

// SentimentScore returns the normalized frustration score for a response
// text, saturating at four distinct indicator hits.
func SentimentScore(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range frustrationTerms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return clamp01(float64(hits) / 4.0)
}
