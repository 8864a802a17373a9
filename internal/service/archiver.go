package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/store"
)

const (
	defaultArchiverInterval = 15 * time.Minute
	defaultIdleTimeout      = 24 * time.Hour
	archiverBatchSize       = 100
)

// ArchiverService sweeps sessions with no activity past the idle timeout and
// completes them as abandoned.
type ArchiverService struct {
	sessionStore domain.SessionStore
	logger       *zap.Logger

	interval    time.Duration
	idleTimeout time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewArchiverService(ss domain.SessionStore, logger *zap.Logger) *ArchiverService {
	return &ArchiverService{
		sessionStore: ss,
		logger:       logger,
		interval:     defaultArchiverInterval,
		idleTimeout:  defaultIdleTimeout,
		stopCh:       make(chan struct{}),
	}
}

func (s *ArchiverService) SetInterval(d time.Duration) {
	s.interval = d
}

func (s *ArchiverService) SetIdleTimeout(d time.Duration) {
	s.idleTimeout = d
}

// Start runs the archiver on a periodic schedule in a background goroutine.
func (s *ArchiverService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("session archiver started",
			zap.Duration("interval", s.interval),
			zap.Duration("idle_timeout", s.idleTimeout))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.run(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("session archiver stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the archiver.
func (s *ArchiverService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *ArchiverService) run(ctx context.Context) {
	cutoff := time.Now().Add(-s.idleTimeout)
	sessions, err := s.sessionStore.ListIdleSince(ctx, cutoff, archiverBatchSize)
	if err != nil {
		s.logger.Error("failed to list idle sessions", zap.Error(err))
		return
	}

	archived := 0
	for i := range sessions {
		sess := &sessions[i]
		next, err := NextState(sess.State, EventAbandoned)
		if err != nil {
			s.logger.Warn("skipping idle session in unexpected state",
				zap.String("session_id", sess.ID.String()),
				zap.String("state", string(sess.State)))
			continue
		}

		reason := domain.CompletionAbandoned
		sess.State = next
		sess.CompletionReason = &reason
		if err := s.sessionStore.Update(ctx, sess); err != nil {
			// A conflict means the session just woke up; leave it alone.
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			s.logger.Warn("failed to archive idle session",
				zap.String("session_id", sess.ID.String()),
				zap.Error(err))
			continue
		}
		archived++
	}

	if archived > 0 {
		s.logger.Info("archived idle sessions", zap.Int("count", archived))
	}
}
