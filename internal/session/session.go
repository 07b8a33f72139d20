// Package session реализует хранилище пользовательской сессии: токен доступа и кешированный профиль.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/flightbook-web/internal/model"
)

var (
	// ErrEmptyToken возвращается при попытке сохранить сессию без токена.
	ErrEmptyToken = errors.New("session token is empty")
	// ErrNotAuthenticated возвращается при изменении профиля в неаутентифицированной сессии.
	ErrNotAuthenticated = errors.New("session is not authenticated")
)

// Snapshot содержит сохраняемое состояние сессии.
type Snapshot struct {
	Token string
	User  *model.UserProfile
}

func (s Snapshot) normalize() Snapshot {
	if s.Token == "" {
		return Snapshot{}
	}
	return s
}

// Store описывает долговременное хранилище сессий.
// Токен и профиль записываются и удаляются только вместе.
type Store interface {
	LoadSession(ctx context.Context, sessionID string) (Snapshot, error)
	SaveSession(ctx context.Context, sessionID string, snap Snapshot) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// EventKind описывает тип изменения сессии.
type EventKind string

const (
	EventSet     EventKind = "set"
	EventCleared EventKind = "cleared"
)

// Event передаётся подписчикам при каждом изменении сессии.
type Event struct {
	Kind      EventKind
	SessionID string
	UserID    string
}

// Listener получает уведомления об изменениях сессий.
type Listener func(ctx context.Context, ev Event)

// Manager открывает сессии браузеров и уведомляет подписчиков об их изменениях.
type Manager struct {
	store  Store
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewManager создаёт менеджер сессий поверх указанного хранилища.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// Subscribe регистрирует подписчика на изменения сессий.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, ev)
	}
}

// Open загружает сессию браузера с указанным идентификатором.
// Отсутствующая в хранилище сессия открывается пустой.
func (m *Manager) Open(ctx context.Context, sessionID string) (*Session, error) {
	snap, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &Session{
		manager: m,
		id:      sessionID,
		snap:    snap.normalize(),
	}, nil
}

// Session представляет сессию одного браузера в пределах одного запроса.
// Состояние загружается при открытии. GetToken перечитывает хранилище перед обращением к API,
// поэтому сброс сессии в параллельном запросе виден до следующего сетевого шага.
type Session struct {
	manager *Manager
	id      string

	mu   sync.Mutex
	snap Snapshot
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) refresh(ctx context.Context) Snapshot {
	snap, err := s.manager.store.LoadSession(ctx, s.id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.manager.logger.Warn("reload session failed", zap.Error(err), zap.String("session", s.id))
		return s.snap
	}
	s.snap = snap.normalize()
	return s.snap
}

// GetToken перечитывает сессию из хранилища и возвращает текущий токен доступа, если он есть.
func (s *Session) GetToken(ctx context.Context) (string, bool) {
	snap := s.refresh(ctx)
	return snap.Token, snap.Token != ""
}

// Token реализует источник учётных данных для шлюза API.
func (s *Session) Token(ctx context.Context) (string, bool) {
	return s.GetToken(ctx)
}

// User возвращает кешированный профиль пользователя или nil.
func (s *Session) User() *model.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.User == nil {
		return nil
	}
	u := *s.snap.User
	return &u
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// IsAuthenticated сообщает, есть ли у сессии токен доступа, по последнему прочитанному состоянию.
func (s *Session) IsAuthenticated(_ context.Context) bool {
	return s.snapshot().Token != ""
}

// IsAdmin проверяет роль кешированного пользователя.
// Это подсказка для интерфейса, а не граница авторизации: права проверяет удалённый API.
func (s *Session) IsAdmin(_ context.Context) bool {
	return s.snapshot().User.IsAdmin()
}

// SetSession сохраняет токен и профиль пользователя.
func (s *Session) SetSession(ctx context.Context, token string, user *model.UserProfile) error {
	if token == "" {
		return ErrEmptyToken
	}

	snap := Snapshot{Token: token, User: user}
	if err := s.manager.store.SaveSession(ctx, s.id, snap); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	ev := Event{Kind: EventSet, SessionID: s.id}
	if user != nil {
		ev.UserID = user.ID
	}
	s.manager.notify(ctx, ev)
	return nil
}

// UpdateUser заменяет кешированный профиль, сохраняя текущий токен.
func (s *Session) UpdateUser(ctx context.Context, user *model.UserProfile) error {
	token, ok := s.GetToken(ctx)
	if !ok {
		return ErrNotAuthenticated
	}
	return s.SetSession(ctx, token, user)
}

// ClearSession удаляет токен и профиль. Повторный вызов безопасен.
func (s *Session) ClearSession(ctx context.Context) error {
	if err := s.manager.store.DeleteSession(ctx, s.id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	s.mu.Lock()
	s.snap = Snapshot{}
	s.mu.Unlock()

	s.manager.notify(ctx, Event{Kind: EventCleared, SessionID: s.id})
	return nil
}

// Reject сбрасывает сессию после отказа удалённого API в аутентификации.
func (s *Session) Reject(ctx context.Context) {
	if err := s.ClearSession(ctx); err != nil {
		s.manager.logger.Error("clear rejected session", zap.Error(err), zap.String("session", s.id))
	}
}
