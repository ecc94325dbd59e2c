package session

import (
	"context"
	"sort"
	"time"

	"github.com/alphadose/haxmap"

	"conduit/internal/domain"
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Key       string            `json:"key"`
	Messages  []domain.Message  `json:"messages"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Summary describes a stored session without its messages.
type Summary struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Storage persists sessions. Load returns (nil, nil) for an unknown key.
// Save replaces the stored history of snap.Key in full.
type Storage interface {
	Load(ctx context.Context, key string) (*Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Summary, error)
	Close() error
}

// MemoryStorage keeps snapshots in process memory. Used for subagents and tests.
type MemoryStorage struct {
	snaps *haxmap.Map[string, Snapshot]
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{snaps: haxmap.New[string, Snapshot]()}
}

func (m *MemoryStorage) Load(_ context.Context, key string) (*Snapshot, error) {
	snap, ok := m.snaps.Get(key)
	if !ok {
		return nil, nil
	}
	snap.Messages = cloneMessages(snap.Messages)
	return &snap, nil
}

func (m *MemoryStorage) Save(_ context.Context, snap Snapshot) error {
	snap.Messages = cloneMessages(snap.Messages)
	m.snaps.Set(snap.Key, snap)
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.snaps.Del(key)
	return nil
}

func (m *MemoryStorage) List(_ context.Context) ([]Summary, error) {
	var out []Summary
	m.snaps.ForEach(func(key string, snap Snapshot) bool {
		out = append(out, Summary{Key: key, MessageCount: len(snap.Messages), UpdatedAt: snap.UpdatedAt})
		return true
	})
	sortSummaries(out)
	return out, nil
}

func (m *MemoryStorage) Close() error { return nil }

// sortSummaries orders by most recently updated first.
func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].Key < s[j].Key
		}
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*FileStorage)(nil)
	_ Storage = (*SQLiteStorage)(nil)
)
