package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/socratic-labs/socratic/internal/domain"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.LearningSession) error {
	var answerVec *pgvector.Vector
	if len(sess.ExpectedAnswerVector) > 0 {
		v := pgvector.NewVector(sess.ExpectedAnswerVector)
		answerVec = &v
	}

	if sess.State == "" {
		sess.State = domain.StateExplanation
	}
	if sess.ConfusionScores == nil {
		sess.ConfusionScores = []float64{}
	}

	return s.db.QueryRow(ctx,
		`INSERT INTO learning_sessions
		   (user_id, topic_id, topic_difficulty, parent_session_id, state, current_question, expected_answer,
		    expected_answer_vec, re_explanation_count, comprehension_attempts, confusion_scores,
		    perfect_session, transition_seq)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, started_at, last_activity_at`,
		sess.UserID, sess.TopicID, sess.TopicDifficulty, sess.ParentSessionID, sess.State,
		sess.CurrentQuestion, sess.ExpectedAnswer, answerVec, sess.ReExplanationCount,
		sess.ComprehensionAttempts, sess.ConfusionScores, sess.PerfectSession, sess.TransitionSeq,
	).Scan(&sess.ID, &sess.StartedAt, &sess.LastActivityAt)
}

func (s *SessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.LearningSession, error) {
	sess := &domain.LearningSession{}
	var answerVec *pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, topic_id, topic_difficulty, parent_session_id, state, completion_reason,
		        current_question, expected_answer, expected_answer_vec, re_explanation_count,
		        comprehension_attempts, confusion_scores, perfect_session, transition_seq,
		        started_at, last_activity_at
		 FROM learning_sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.UserID, &sess.TopicID, &sess.TopicDifficulty, &sess.ParentSessionID, &sess.State,
		&sess.CompletionReason, &sess.CurrentQuestion, &sess.ExpectedAnswer, &answerVec,
		&sess.ReExplanationCount, &sess.ComprehensionAttempts, &sess.ConfusionScores,
		&sess.PerfectSession, &sess.TransitionSeq, &sess.StartedAt, &sess.LastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if answerVec != nil {
		sess.ExpectedAnswerVector = answerVec.Slice()
	}
	return sess, nil
}

// Update persists a transition. The WHERE clause on transition_seq makes the
// write conditional on nobody else having advanced the session; a stale
// write affects zero rows and returns ErrVersionConflict.
func (s *SessionStore) Update(ctx context.Context, sess *domain.LearningSession) error {
	var answerVec *pgvector.Vector
	if len(sess.ExpectedAnswerVector) > 0 {
		v := pgvector.NewVector(sess.ExpectedAnswerVector)
		answerVec = &v
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE learning_sessions
		 SET state = $2, completion_reason = $3, current_question = $4, expected_answer = $5,
		     expected_answer_vec = $6, re_explanation_count = $7, comprehension_attempts = $8,
		     confusion_scores = $9, perfect_session = $10, transition_seq = $11,
		     last_activity_at = NOW()
		 WHERE id = $1 AND transition_seq = $12`,
		sess.ID, sess.State, sess.CompletionReason, sess.CurrentQuestion, sess.ExpectedAnswer,
		answerVec, sess.ReExplanationCount, sess.ComprehensionAttempts, sess.ConfusionScores,
		sess.PerfectSession, sess.TransitionSeq+1, sess.TransitionSeq,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	sess.TransitionSeq++
	sess.LastActivityAt = time.Now()
	return nil
}

func (s *SessionStore) AppendExplanation(ctx context.Context, e *domain.Explanation) error {
	var embedding *pgvector.Vector
	if len(e.Embedding) > 0 {
		v := pgvector.NewVector(e.Embedding)
		embedding = &v
	}

	return s.db.QueryRow(ctx,
		`INSERT INTO session_explanations (session_id, strategy, content, embedding)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		e.SessionID, e.Strategy, e.Content, embedding,
	).Scan(&e.ID, &e.CreatedAt)
}

func (s *SessionStore) LatestExplanation(ctx context.Context, sessionID uuid.UUID) (*domain.Explanation, error) {
	e := &domain.Explanation{}
	var embedding *pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT id, session_id, strategy, content, embedding, created_at
		 FROM session_explanations
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		sessionID,
	).Scan(&e.ID, &e.SessionID, &e.Strategy, &e.Content, &embedding, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if embedding != nil {
		e.Embedding = embedding.Slice()
	}
	return e, nil
}

func (s *SessionStore) ListExplanations(ctx context.Context, sessionID uuid.UUID) ([]domain.Explanation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, strategy, content, embedding, created_at
		 FROM session_explanations
		 WHERE session_id = $1
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var explanations []domain.Explanation
	for rows.Next() {
		var e domain.Explanation
		var embedding *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Strategy, &e.Content, &embedding, &e.CreatedAt); err != nil {
			return nil, err
		}
		if embedding != nil {
			e.Embedding = embedding.Slice()
		}
		explanations = append(explanations, e)
	}
	return explanations, rows.Err()
}

func (s *SessionStore) ListIdleSince(ctx context.Context, cutoff time.Time, limit int) ([]domain.LearningSession, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, topic_id, topic_difficulty, parent_session_id, state, completion_reason,
		        current_question, expected_answer, expected_answer_vec, re_explanation_count,
		        comprehension_attempts, confusion_scores, perfect_session, transition_seq,
		        started_at, last_activity_at
		 FROM learning_sessions
		 WHERE state != 'complete' AND last_activity_at < $1
		 ORDER BY last_activity_at ASC
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.LearningSession
	for rows.Next() {
		var sess domain.LearningSession
		var answerVec *pgvector.Vector
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.TopicID, &sess.TopicDifficulty, &sess.ParentSessionID,
			&sess.State, &sess.CompletionReason, &sess.CurrentQuestion, &sess.ExpectedAnswer, &answerVec,
			&sess.ReExplanationCount, &sess.ComprehensionAttempts, &sess.ConfusionScores,
			&sess.PerfectSession, &sess.TransitionSeq, &sess.StartedAt, &sess.LastActivityAt); err != nil {
			return nil, err
		}
		if answerVec != nil {
			sess.ExpectedAnswerVector = answerVec.Slice()
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
