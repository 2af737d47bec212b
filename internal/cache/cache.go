package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockscan/backend/internal/domain"
	"stockscan/backend/internal/store"
)

var ErrSessionNotFound = fmt.Errorf("import session %w", store.ErrNotFound)

// ProgressStore keeps the cumulative counts of a chunked import across requests.
type ProgressStore interface {
	Create(ctx context.Context, kind domain.ImportKind) (domain.ImportProgress, error)
	Add(ctx context.Context, sessionID string, kind domain.ImportKind, counts domain.ImportCounts) (domain.ImportProgress, error)
	Get(ctx context.Context, sessionID string) (domain.ImportProgress, error)
}

type memorySession struct {
	progress  domain.ImportProgress
	expiresAt time.Time
}

type MemoryProgressStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

func NewMemoryProgressStore(ttl time.Duration) *MemoryProgressStore {
	return &MemoryProgressStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memorySession),
	}
}

func (m *MemoryProgressStore) Create(_ context.Context, kind domain.ImportKind) (domain.ImportProgress, error) {
	if !kind.Valid() {
		return domain.ImportProgress{}, store.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	progress := domain.ImportProgress{SessionID: uuid.NewString(), Kind: kind}
	m.sessions[progress.SessionID] = &memorySession{progress: progress, expiresAt: m.now().Add(m.ttl)}
	return progress, nil
}

func (m *MemoryProgressStore) Add(_ context.Context, sessionID string, kind domain.ImportKind, counts domain.ImportCounts) (domain.ImportProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.liveLocked(sessionID)
	if err != nil {
		return domain.ImportProgress{}, err
	}
	if sess.progress.Kind != kind {
		return domain.ImportProgress{}, fmt.Errorf("session %s belongs to %s import: %w", sessionID, sess.progress.Kind, store.ErrInvalidInput)
	}
	sess.progress.Chunks++
	sess.progress.Counts = sess.progress.Counts.Add(counts)
	sess.expiresAt = m.now().Add(m.ttl)
	return sess.progress, nil
}

func (m *MemoryProgressStore) Get(_ context.Context, sessionID string) (domain.ImportProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.liveLocked(sessionID)
	if err != nil {
		return domain.ImportProgress{}, err
	}
	return sess.progress, nil
}

func (m *MemoryProgressStore) liveLocked(sessionID string) (*memorySession, error) {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !m.now().Before(sess.expiresAt) {
		delete(m.sessions, sessionID)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemoryProgressStore) sweepLocked() {
	now := m.now()
	for id, sess := range m.sessions {
		if !now.Before(sess.expiresAt) {
			delete(m.sessions, id)
		}
	}
}
