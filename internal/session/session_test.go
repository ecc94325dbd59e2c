package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"conduit/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleHistory() []domain.Message {
	return []domain.Message{
		{Role: domain.RoleUser, Content: "list files", Media: []string{"/tmp/a.png"}},
		{Role: domain.RoleAssistant, Content: "", ToolCalls: []domain.ToolCall{
			{ID: "call_1", Name: "list_dir", Arguments: map[string]any{"path": "."}},
		}},
		{Role: domain.RoleTool, Content: "a.txt\nb.txt", ToolCallID: "call_1", ToolName: "list_dir"},
		{Role: domain.RoleAssistant, Content: "Two files: a.txt and b.txt"},
	}
}

func storages(t *testing.T) map[string]Storage {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStorage(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatalf("file storage: %v", err)
	}
	db, err := NewSQLiteStorage(filepath.Join(dir, "sessions.db"), testLogger())
	if err != nil {
		t.Fatalf("sqlite storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   fs,
		"sqlite": db,
	}
}

func TestStorage_RoundTrip(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleHistory()
			if err := st.Save(ctx, Snapshot{Key: "telegram:-100:5", Messages: want, Metadata: map[string]string{"k": "v"}}); err != nil {
				t.Fatalf("save: %v", err)
			}

			got, err := st.Load(ctx, "telegram:-100:5")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got == nil {
				t.Fatal("expected snapshot")
			}
			if got.Key != "telegram:-100:5" {
				t.Fatalf("unexpected key %q", got.Key)
			}
			if len(got.Messages) != len(want) {
				t.Fatalf("expected %d messages, got %d", len(want), len(got.Messages))
			}
			for i := range want {
				if got.Messages[i].Role != want[i].Role || got.Messages[i].Content != want[i].Content {
					t.Fatalf("message %d mismatch: %+v vs %+v", i, got.Messages[i], want[i])
				}
				if got.Messages[i].ToolCallID != want[i].ToolCallID || got.Messages[i].ToolName != want[i].ToolName {
					t.Fatalf("message %d tool fields mismatch", i)
				}
			}
			if len(got.Messages[0].Media) != 1 || got.Messages[0].Media[0] != "/tmp/a.png" {
				t.Fatalf("media not preserved: %v", got.Messages[0].Media)
			}
			calls := got.Messages[1].ToolCalls
			if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Arguments["path"] != "." {
				t.Fatalf("tool calls not preserved: %+v", calls)
			}
			if got.Metadata["k"] != "v" {
				t.Fatalf("metadata not preserved: %v", got.Metadata)
			}
		})
	}
}

func TestStorage_SaveReplaces(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = st.Save(ctx, Snapshot{Key: "cli:direct", Messages: sampleHistory()})
			_ = st.Save(ctx, Snapshot{Key: "cli:direct", Messages: []domain.Message{{Role: "user", Content: "only"}}})

			got, err := st.Load(ctx, "cli:direct")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(got.Messages) != 1 || got.Messages[0].Content != "only" {
				t.Fatalf("expected replacement, got %+v", got.Messages)
			}
		})
	}
}

func TestStorage_MissingAndDelete(t *testing.T) {
	for name, st := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			snap, err := st.Load(ctx, "nobody:here")
			if err != nil || snap != nil {
				t.Fatalf("expected (nil, nil), got (%v, %v)", snap, err)
			}

			_ = st.Save(ctx, Snapshot{Key: "a:1", Messages: sampleHistory()})
			_ = st.Save(ctx, Snapshot{Key: "b:2"})
			list, err := st.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("expected 2 sessions, got %d", len(list))
			}

			if err := st.Delete(ctx, "a:1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if snap, _ := st.Load(ctx, "a:1"); snap != nil {
				t.Fatal("expected session to be gone")
			}
			if err := st.Delete(ctx, "a:1"); err != nil {
				t.Fatalf("second delete should be a no-op: %v", err)
			}
		})
	}
}

func TestManager_SameInstanceForKey(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: testLogger()})
	ctx := context.Background()

	var wg sync.WaitGroup
	got := make([]*Session, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.GetOrCreate(ctx, "cli:direct")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			got[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatal("concurrent GetOrCreate returned different sessions")
		}
	}
}

func TestManager_HistoryLimitAndCopy(t *testing.T) {
	m := NewManager(ManagerConfig{Logger: testLogger()})
	s, _ := m.GetOrCreate(context.Background(), "cli:direct")
	for _, msg := range sampleHistory() {
		m.AppendMessage(s, msg)
	}

	h := m.History(s, 2)
	if len(h) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(h))
	}
	if h[0].Role != domain.RoleTool || h[1].Content != "Two files: a.txt and b.txt" {
		t.Fatalf("expected the last two turns, got %+v", h)
	}

	h[1].Content = "mutated"
	if m.History(s, 0)[3].Content == "mutated" {
		t.Fatal("history must be a copy")
	}
	if len(m.History(s, 0)) != 4 {
		t.Fatal("limit <= 0 should return everything")
	}
}

func TestManager_SaveAndReload(t *testing.T) {
	st := NewMemoryStorage()
	ctx := context.Background()

	m1 := NewManager(ManagerConfig{Storage: st, Logger: testLogger()})
	s, _ := m1.GetOrCreate(ctx, "telegram:42")
	m1.Append(s, domain.RoleUser, "hi")
	m1.Append(s, domain.RoleAssistant, "hello")
	if err := m1.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	m2 := NewManager(ManagerConfig{Storage: st, Logger: testLogger()})
	s2, err := m2.GetOrCreate(ctx, "telegram:42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s2.Len() != 2 || s2.Messages()[1].Content != "hello" {
		t.Fatalf("expected reloaded history, got %+v", s2.Messages())
	}
}

func TestManager_Clear(t *testing.T) {
	st := NewMemoryStorage()
	ctx := context.Background()
	m := NewManager(ManagerConfig{Storage: st, Logger: testLogger()})
	s, _ := m.GetOrCreate(ctx, "cli:direct")
	m.Append(s, domain.RoleUser, "hi")
	_ = m.Save(ctx, s)

	if err := m.Clear(ctx, s); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s.Len() != 0 {
		t.Fatal("expected empty session")
	}
	snap, _ := st.Load(ctx, "cli:direct")
	if snap == nil || len(snap.Messages) != 0 {
		t.Fatalf("expected empty persisted session, got %+v", snap)
	}
}

type failingStorage struct {
	*MemoryStorage
	loadErr error
	saveErr error
}

func (f *failingStorage) Load(ctx context.Context, key string) (*Snapshot, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.MemoryStorage.Load(ctx, key)
}

func (f *failingStorage) Save(ctx context.Context, snap Snapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.MemoryStorage.Save(ctx, snap)
}

func TestManager_LoadFailureIsRetried(t *testing.T) {
	st := &failingStorage{MemoryStorage: NewMemoryStorage(), loadErr: errors.New("disk gone")}
	m := NewManager(ManagerConfig{Storage: st, Logger: testLogger()})
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "cli:direct"); err == nil {
		t.Fatal("expected load error")
	}

	st.loadErr = nil
	if _, err := m.GetOrCreate(ctx, "cli:direct"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestManager_FailedLoadDoesNotEvictNewerSession(t *testing.T) {
	m := NewManager(ManagerConfig{Storage: NewMemoryStorage(), Logger: testLogger()})
	ctx := context.Background()

	stale := newSession("cli:direct")
	fresh, err := m.GetOrCreate(ctx, "cli:direct")
	if err != nil {
		t.Fatal(err)
	}

	m.evictFailed("cli:direct", stale)
	if cur, ok := m.Get("cli:direct"); !ok || cur != fresh {
		t.Fatal("stale eviction removed the live session")
	}

	m.evictFailed("cli:direct", fresh)
	if _, ok := m.Get("cli:direct"); ok {
		t.Fatal("matching eviction should remove the session")
	}
}

func TestManager_SaveFailureKeepsMemory(t *testing.T) {
	st := &failingStorage{MemoryStorage: NewMemoryStorage(), saveErr: errors.New("read-only")}
	m := NewManager(ManagerConfig{Storage: st, Logger: testLogger()})
	ctx := context.Background()

	s, _ := m.GetOrCreate(ctx, "cli:direct")
	m.Append(s, domain.RoleUser, "hi")
	if err := m.Save(ctx, s); err == nil {
		t.Fatal("expected save error")
	}
	if s.Len() != 1 {
		t.Fatal("in-memory history must survive a failed save")
	}
}
