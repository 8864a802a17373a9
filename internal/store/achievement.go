package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/socratic-labs/socratic/internal/domain"
)

type AchievementStore struct {
	db *pgxpool.Pool
}

func NewAchievementStore(db *pgxpool.Pool) *AchievementStore {
	return &AchievementStore{db: db}
}

func (s *AchievementStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Achievement, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, achievement_id, progress, target, completed, unlocked_at
		 FROM achievements
		 WHERE user_id = $1
		 ORDER BY achievement_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var achievements []domain.Achievement
	for rows.Next() {
		var a domain.Achievement
		if err := rows.Scan(&a.UserID, &a.AchievementID, &a.Progress, &a.Target, &a.Completed, &a.UnlockedAt); err != nil {
			return nil, err
		}
		achievements = append(achievements, a)
	}
	return achievements, rows.Err()
}

// Upsert creates the row lazily on first progress and advances it thereafter.
// The WHERE clause freezes completed rows: once completed, progress and
// unlocked_at never change again.
func (s *AchievementStore) Upsert(ctx context.Context, a *domain.Achievement) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO achievements (user_id, achievement_id, progress, target, completed, unlocked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, achievement_id) DO UPDATE
		 SET progress = GREATEST(achievements.progress, EXCLUDED.progress),
		     completed = achievements.completed OR EXCLUDED.completed,
		     unlocked_at = COALESCE(achievements.unlocked_at, EXCLUDED.unlocked_at)
		 WHERE NOT achievements.completed`,
		a.UserID, a.AchievementID, a.Progress, a.Target, a.Completed, a.UnlockedAt,
	)
	return err
}
