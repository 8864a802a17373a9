package notify

import (
	"context"
	"sync"

	"github.com/socratic-labs/socratic/internal/domain"
)

// NoopNotifier discards events. Used when Redis is not configured, and as
// the base for test assertions via Events().
type NoopNotifier struct {
	mu     sync.Mutex
	events []domain.NotifyEvent
}

func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

func (n *NoopNotifier) Notify(ctx context.Context, event domain.NotifyEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

// Events returns a copy of everything notified so far.
func (n *NoopNotifier) Events() []domain.NotifyEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotifyEvent, len(n.events))
	copy(out, n.events)
	return out
}
