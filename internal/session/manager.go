package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"

	"conduit/internal/domain"
)

// ManagerConfig holds the dependencies of a Manager.
type ManagerConfig struct {
	Storage Storage
	Logger  *slog.Logger
}

// Manager caches sessions in memory and persists them through Storage.
// Concurrent GetOrCreate calls for the same key observe the same *Session.
type Manager struct {
	storage Storage
	cache   *haxmap.Map[string, *Session]
	logger  *slog.Logger

	evictMu sync.Mutex // serializes evictFailed
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Storage == nil {
		cfg.Storage = NewMemoryStorage()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		storage: cfg.Storage,
		cache:   haxmap.New[string, *Session](),
		logger:  cfg.Logger,
	}
}

// GetOrCreate returns the session for key, loading it from storage on first
// use. A failed load is not cached so the next call retries.
func (m *Manager) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	s, _ := m.cache.GetOrCompute(key, func() *Session {
		return newSession(key)
	})

	s.loadOnce.Do(func() {
		snap, err := m.storage.Load(ctx, key)
		if err != nil {
			s.loadErr = fmt.Errorf("load session %s: %w", key, err)
			return
		}
		if snap != nil {
			s.restore(snap)
			m.logger.Debug("session loaded", "session", key, "messages", len(snap.Messages))
			return
		}
		m.logger.Info("created new session", "session", key)
	})

	if s.loadErr != nil {
		m.evictFailed(key, s)
		return nil, s.loadErr
	}
	return s, nil
}

// evictFailed drops s from the cache only while it is still the cached
// value for key. A late caller of a failed load must not evict a session
// another goroutine has since created and loaded.
func (m *Manager) evictFailed(key string, s *Session) {
	m.evictMu.Lock()
	defer m.evictMu.Unlock()
	if cur, ok := m.cache.Get(key); ok && cur == s {
		m.cache.Del(key)
	}
}

// Get returns a cached session without touching storage.
func (m *Manager) Get(key string) (*Session, bool) {
	return m.cache.Get(key)
}

// Append adds a plain turn to the session.
func (m *Manager) Append(s *Session, role, content string) {
	s.append(domain.Message{Role: role, Content: content})
}

func (m *Manager) AppendMessage(s *Session, msg domain.Message) {
	s.append(msg)
}

// History returns a copy of the last limit turns (all turns when limit <= 0).
func (m *Manager) History(s *Session, limit int) []domain.Message {
	return s.history(limit)
}

// Save flushes the session to storage. The in-memory history is kept on failure.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if err := m.storage.Save(ctx, s.snapshot()); err != nil {
		return fmt.Errorf("save session %s: %w", s.Key, err)
	}
	return nil
}

// Clear drops all turns and persists the empty session.
func (m *Manager) Clear(ctx context.Context, s *Session) error {
	s.reset()
	if err := m.Save(ctx, s); err != nil {
		return err
	}
	m.logger.Info("session cleared", "session", s.Key)
	return nil
}

// Delete removes the session from the cache and from storage.
func (m *Manager) Delete(ctx context.Context, key string) error {
	m.cache.Del(key)
	if err := m.storage.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// List returns summaries of all persisted sessions.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	return m.storage.List(ctx)
}

func (m *Manager) Close() error {
	return m.storage.Close()
}
