package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
)

// Event type names published to the realtime channel.
const (
	EventXPAwarded           = "xp_awarded"
	EventLevelUp             = "level_up"
	EventStageChanged        = "stage_changed"
	EventAchievementUnlocked = "achievement_unlocked"
	EventGraphUpdated        = "graph_updated"
	EventSessionSplit        = "session_split"
)

// RedisNotifier publishes learner-facing events to a Redis pub/sub channel.
// Delivery is best-effort: failures are logged and never propagated.
type RedisNotifier struct {
	rdb     *goredis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisNotifier(addr, channel string, logger *zap.Logger) (*RedisNotifier, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if channel == "" {
		channel = "learner-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisNotifier{rdb: rdb, channel: channel, logger: logger}, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, event domain.NotifyEvent) {
	raw, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("marshal notify event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.logger.Warn("publish notify event",
			zap.String("type", event.Type),
			zap.String("user_id", event.UserID.String()),
			zap.Error(err))
	}
}

func (n *RedisNotifier) Close() error {
	return n.rdb.Close()
}
