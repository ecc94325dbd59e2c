// Package session keeps per-conversation history keyed by "channel:chat_id"
// and persists it through a pluggable Storage.
package session

import (
	"sync"
	"time"

	"conduit/internal/domain"
)

// Session is the ordered history of one conversation. All access goes through
// its own mutex; callers serialize whole exchanges with a per-key lock.
type Session struct {
	Key string

	mu        sync.Mutex
	messages  []domain.Message
	createdAt time.Time
	updatedAt time.Time
	metadata  map[string]string

	loadOnce sync.Once
	loadErr  error
}

func newSession(key string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		createdAt: now,
		updatedAt: now,
		metadata:  make(map[string]string),
	}
}

// Len returns the number of stored turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Messages returns a copy of the full history.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMessages(s.messages)
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// SetMetadata stores a free-form key/value pair that is persisted with the session.
func (s *Session) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
	s.updatedAt = time.Now()
}

func (s *Session) Metadata(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata[key]
}

func (s *Session) append(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg.Clone())
	s.updatedAt = time.Now()
}

func (s *Session) history(limit int) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return cloneMessages(msgs)
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.updatedAt = time.Now()
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return Snapshot{
		Key:       s.Key,
		Messages:  cloneMessages(s.messages),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Metadata:  meta,
	}
}

func (s *Session) restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = cloneMessages(snap.Messages)
	if !snap.CreatedAt.IsZero() {
		s.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		s.updatedAt = snap.UpdatedAt
	}
	for k, v := range snap.Metadata {
		s.metadata[k] = v
	}
}

func cloneMessages(in []domain.Message) []domain.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
