package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/socratic-labs/socratic/internal/domain"
)

type ProfileStore struct {
	db *pgxpool.Pool
}

func NewProfileStore(db *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{db: db}
}

const profileColumns = `user_id, total_xp, level, evolution_stage, current_streak, longest_streak,
	last_activity_date, freeze_available, freeze_granted_at, version, created_at, updated_at`

func scanProfile(row pgx.Row) (*domain.LearnerProfile, error) {
	p := &domain.LearnerProfile{}
	err := row.Scan(&p.UserID, &p.TotalXP, &p.Level, &p.Stage, &p.CurrentStreak, &p.LongestStreak,
		&p.LastActivityDate, &p.FreezeAvailable, &p.FreezeGrantedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *ProfileStore) Get(ctx context.Context, userID uuid.UUID) (*domain.LearnerProfile, error) {
	return scanProfile(s.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM learner_profiles WHERE user_id = $1`,
		userID,
	))
}

func (s *ProfileStore) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.LearnerProfile, error) {
	return scanProfile(s.db.QueryRow(ctx,
		`INSERT INTO learner_profiles (user_id, total_xp, level, evolution_stage, current_streak, longest_streak, version)
		 VALUES ($1, 0, 1, 'seedling', 0, 0, 1)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING `+profileColumns,
		userID,
	))
}

// ApplyAward writes the xp_awards ledger row and the updated profile in a
// single transaction. The ledger insert is deduplicated on
// (session_id, transition_id); the profile update is conditional on the
// version the caller read. Either guard failing aborts the whole write.
func (s *ProfileStore) ApplyAward(ctx context.Context, p *domain.LearnerProfile, prevVersion int64, award *domain.XPAward) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin award tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO xp_awards (session_id, transition_id, user_id, activity, xp_delta)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id, transition_id) DO NOTHING`,
		award.SessionID, award.TransitionID, p.UserID, award.Activity, award.XPDelta,
	)
	if err != nil {
		return fmt.Errorf("insert award ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateAward
	}

	tag, err = tx.Exec(ctx,
		`UPDATE learner_profiles
		 SET total_xp = $2, level = $3, evolution_stage = $4, current_streak = $5,
		     longest_streak = $6, last_activity_date = $7, freeze_available = $8,
		     freeze_granted_at = $9, version = $10, updated_at = NOW()
		 WHERE user_id = $1 AND version = $11`,
		p.UserID, p.TotalXP, p.Level, p.Stage, p.CurrentStreak, p.LongestStreak,
		p.LastActivityDate, p.FreezeAvailable, p.FreezeGrantedAt, prevVersion+1, prevVersion,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit award tx: %w", err)
	}
	p.Version = prevVersion + 1
	return nil
}
