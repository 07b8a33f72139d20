package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mmeshcher/flightbook-web/internal/checkout"
	"github.com/mmeshcher/flightbook-web/internal/session"
)

// MemoryRepository хранит сессии и попытки оформления в памяти процесса.
// Используется без DATABASE_URI и в тестах.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]session.Snapshot
	attempts map[string]checkout.Attempt
	now      func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]session.Snapshot),
		attempts: make(map[string]checkout.Attempt),
		now:      time.Now,
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error {
	return nil
}

// LoadSession возвращает сессию или пустой снимок.
func (r *MemoryRepository) LoadSession(_ context.Context, sessionID string) (session.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.sessions[sessionID]
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap, nil
}

// SaveSession сохраняет токен и профиль.
func (r *MemoryRepository) SaveSession(_ context.Context, sessionID string, snap session.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	r.sessions[sessionID] = snap
	return nil
}

// DeleteSession удаляет сессию.
func (r *MemoryRepository) DeleteSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}

// CreateAttempt сохраняет новую попытку оформления.
func (r *MemoryRepository) CreateAttempt(_ context.Context, a checkout.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.attempts[a.ID]; ok {
		return checkout.ErrAttemptExists
	}
	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	r.attempts[a.ID] = a
	return nil
}

// GetAttempt возвращает попытку по идентификатору.
func (r *MemoryRepository) GetAttempt(_ context.Context, id string) (checkout.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok {
		return checkout.Attempt{}, checkout.ErrAttemptNotFound
	}
	return a, nil
}

// TransitionAttempt заменяет попытку, если её текущая фаза входит в from.
func (r *MemoryRepository) TransitionAttempt(_ context.Context, id string, from []checkout.Phase, next checkout.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.attempts[id]
	if !ok {
		return checkout.ErrAttemptNotFound
	}
	if !slices.Contains(from, cur.Phase) {
		return checkout.ErrPhaseConflict
	}

	next.ID = cur.ID
	next.SessionID = cur.SessionID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = r.now()
	r.attempts[id] = next
	return nil
}
