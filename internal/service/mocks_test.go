package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/store"
)

// mockSessionStore implements domain.SessionStore in memory, including the
// transition_seq guard on Update.
type mockSessionStore struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*domain.LearningSession
	explanations map[uuid.UUID][]domain.Explanation
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{
		sessions:     make(map[uuid.UUID]*domain.LearningSession),
		explanations: make(map[uuid.UUID][]domain.Explanation),
	}
}

func (m *mockSessionStore) Create(ctx context.Context, s *domain.LearningSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	s.StartedAt = time.Now()
	s.LastActivityAt = s.StartedAt
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.LearningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	cp.ConfusionScores = append([]float64(nil), s.ConfusionScores...)
	return &cp, nil
}

func (m *mockSessionStore) Update(ctx context.Context, s *domain.LearningSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.TransitionSeq != s.TransitionSeq {
		return store.ErrVersionConflict
	}
	s.TransitionSeq++
	s.LastActivityAt = time.Now()
	cp := *s
	cp.ConfusionScores = append([]float64(nil), s.ConfusionScores...)
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionStore) AppendExplanation(ctx context.Context, e *domain.Explanation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.explanations[e.SessionID] = append(m.explanations[e.SessionID], *e)
	return nil
}

func (m *mockSessionStore) LatestExplanation(ctx context.Context, sessionID uuid.UUID) (*domain.Explanation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.explanations[sessionID]
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	cp := list[len(list)-1]
	return &cp, nil
}

func (m *mockSessionStore) ListExplanations(ctx context.Context, sessionID uuid.UUID) ([]domain.Explanation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Explanation(nil), m.explanations[sessionID]...), nil
}

func (m *mockSessionStore) ListIdleSince(ctx context.Context, cutoff time.Time, limit int) ([]domain.LearningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LearningSession
	for _, s := range m.sessions {
		if s.State != domain.StateComplete && s.LastActivityAt.Before(cutoff) {
			out = append(out, *s)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// mockProfileStore implements domain.ProfileStore with the same version and
// ledger guards as the real store.
type mockProfileStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*domain.LearnerProfile
	ledger   map[string]bool
}

func newMockProfileStore() *mockProfileStore {
	return &mockProfileStore{
		profiles: make(map[uuid.UUID]*domain.LearnerProfile),
		ledger:   make(map[string]bool),
	}
}

func (m *mockProfileStore) Get(ctx context.Context, userID uuid.UUID) (*domain.LearnerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProfileStore) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.LearnerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = &domain.LearnerProfile{
			UserID:    userID,
			TotalXP:   0,
			Level:     1,
			Stage:     domain.StageSeedling,
			Version:   1,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		m.profiles[userID] = p
	}
	cp := *p
	return &cp, nil
}

func ledgerKey(award *domain.XPAward) string {
	return award.SessionID.String() + ":" + award.TransitionID.String()
}

func (m *mockProfileStore) ApplyAward(ctx context.Context, p *domain.LearnerProfile, prevVersion int64, award *domain.XPAward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger[ledgerKey(award)] {
		return store.ErrDuplicateAward
	}
	cur, ok := m.profiles[p.UserID]
	if !ok || cur.Version != prevVersion {
		return store.ErrVersionConflict
	}
	m.ledger[ledgerKey(award)] = true
	p.Version = prevVersion + 1
	p.UpdatedAt = time.Now()
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

// mockAchievementStore implements domain.AchievementStore; completed rows are
// immutable, matching the SQL upsert guard.
type mockAchievementStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]map[string]*domain.Achievement
}

func newMockAchievementStore() *mockAchievementStore {
	return &mockAchievementStore{rows: make(map[uuid.UUID]map[string]*domain.Achievement)}
}

func (m *mockAchievementStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Achievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Achievement
	for _, a := range m.rows[userID] {
		out = append(out, *a)
	}
	return out, nil
}

func (m *mockAchievementStore) Upsert(ctx context.Context, a *domain.Achievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.rows[a.UserID]
	if byID == nil {
		byID = make(map[string]*domain.Achievement)
		m.rows[a.UserID] = byID
	}
	cur := byID[a.AchievementID]
	if cur != nil && cur.Completed {
		return nil
	}
	if cur != nil && cur.Progress > a.Progress {
		a.Progress = cur.Progress
	}
	cp := *a
	byID[a.AchievementID] = &cp
	return nil
}

// mockGraphStore implements domain.GraphStore; Upsert never lowers mastery or
// regresses a mastered node.
type mockGraphStore struct {
	mu    sync.Mutex
	nodes map[uuid.UUID]map[string]*domain.KnowledgeGraphNode
}

func newMockGraphStore() *mockGraphStore {
	return &mockGraphStore{nodes: make(map[uuid.UUID]map[string]*domain.KnowledgeGraphNode)}
}

func (m *mockGraphStore) Get(ctx context.Context, userID uuid.UUID, topicID string) (*domain.KnowledgeGraphNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[userID][topicID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockGraphStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.KnowledgeGraphNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.KnowledgeGraphNode
	for _, n := range m.nodes[userID] {
		out = append(out, *n)
	}
	return out, nil
}

func (m *mockGraphStore) Upsert(ctx context.Context, n *domain.KnowledgeGraphNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTopic := m.nodes[n.UserID]
	if byTopic == nil {
		byTopic = make(map[string]*domain.KnowledgeGraphNode)
		m.nodes[n.UserID] = byTopic
	}
	cur := byTopic[n.TopicID]
	if cur != nil {
		if cur.Status == domain.NodeMastered {
			n.Status = domain.NodeMastered
		}
		if cur.MasteryPercentage > n.MasteryPercentage {
			n.MasteryPercentage = cur.MasteryPercentage
		}
		n.TimesReviewed = cur.TimesReviewed
	}
	n.TimesReviewed++
	now := time.Now()
	n.LastReviewedAt = &now
	cp := *n
	byTopic[n.TopicID] = &cp
	return nil
}

func (m *mockGraphStore) CountMastered(ctx context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.nodes[userID] {
		if n.Status == domain.NodeMastered {
			count++
		}
	}
	return count, nil
}

// mockKnowledgeStore implements domain.KnowledgeStore with a fixed search
// result set.
type mockKnowledgeStore struct {
	mu      sync.Mutex
	chunks  []domain.KnowledgeChunk
	results []domain.ChunkWithScore
	err     error
}

func newMockKnowledgeStore() *mockKnowledgeStore {
	return &mockKnowledgeStore{}
}

func (m *mockKnowledgeStore) Create(ctx context.Context, c *domain.KnowledgeChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.chunks = append(m.chunks, *c)
	return nil
}

func (m *mockKnowledgeStore) Search(ctx context.Context, embedding []float32, topK int) ([]domain.ChunkWithScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) > topK {
		return m.results[:topK], nil
	}
	return m.results, nil
}
