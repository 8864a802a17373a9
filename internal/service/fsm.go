package service

import (
	"errors"
	"fmt"

	"github.com/socratic-labs/socratic/internal/domain"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionEvent names something that happened to a session. The FSM maps
// (state, event) pairs to the next state; anything not in the table is
// rejected rather than silently absorbed.
type TransitionEvent string

const (
	EventExplanationDelivered TransitionEvent = "explanation_delivered"
	EventResponseSubmitted    TransitionEvent = "response_submitted"
	EventResponseScored       TransitionEvent = "response_scored"
	EventConfusionScored      TransitionEvent = "confusion_scored"
	EventReExplain            TransitionEvent = "re_explain"
	EventAdvanceToTeachBack   TransitionEvent = "advance_to_teach_back"
	EventSplitTopic           TransitionEvent = "split_topic"
	EventTeachBackPassed      TransitionEvent = "teach_back_passed"
	EventTeachBackFailed      TransitionEvent = "teach_back_failed"
	EventMasteryConfirmed     TransitionEvent = "mastery_confirmed"
	EventAbandoned            TransitionEvent = "abandoned"
)

var transitions = map[domain.SessionState]map[TransitionEvent]domain.SessionState{
	domain.StateExplanation: {
		EventExplanationDelivered: domain.StateComprehensionCheck,
		EventAbandoned:            domain.StateComplete,
	},
	domain.StateComprehensionCheck: {
		EventResponseSubmitted: domain.StateEvaluation,
		EventAbandoned:         domain.StateComplete,
	},
	domain.StateEvaluation: {
		EventResponseScored: domain.StateConfusionDetection,
		EventAbandoned:      domain.StateComplete,
	},
	domain.StateConfusionDetection: {
		EventConfusionScored: domain.StateAdaptation,
		EventAbandoned:       domain.StateComplete,
	},
	domain.StateAdaptation: {
		EventReExplain:          domain.StateExplanation,
		EventAdvanceToTeachBack: domain.StateTeachBack,
		EventSplitTopic:         domain.StateComplete,
		EventAbandoned:          domain.StateComplete,
	},
	domain.StateTeachBack: {
		EventTeachBackPassed: domain.StateMasteryVerification,
		EventTeachBackFailed: domain.StateExplanation,
		EventSplitTopic:      domain.StateComplete,
		EventAbandoned:       domain.StateComplete,
	},
	domain.StateMasteryVerification: {
		EventMasteryConfirmed: domain.StateComplete,
		EventAbandoned:        domain.StateComplete,
	},
}

// NextState resolves a transition. Complete is terminal so it has no row in
// the table and every event from it fails.
func NextState(state domain.SessionState, event TransitionEvent) (domain.SessionState, error) {
	row, ok := transitions[state]
	if !ok {
		return "", fmt.Errorf("%w: no transitions from state %q", ErrInvalidTransition, state)
	}
	next, ok := row[event]
	if !ok {
		return "", fmt.Errorf("%w: event %q not valid in state %q", ErrInvalidTransition, event, state)
	}
	return next, nil
}

// advance walks a session through a sequence of events, failing on the first
// illegal hop. Callers use it to assert a whole path is legal before
// persisting the resulting state.
func advance(state domain.SessionState, events ...TransitionEvent) (domain.SessionState, error) {
	cur := state
	for _, ev := range events {
		next, err := NextState(cur, ev)
		if err != nil {
			return "", err
		}
		cur = next
	}
	return cur, nil
}
