package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"conduit/internal/domain"
)

const (
	sessionFileExt   = ".jsonl"
	metadataLineType = "metadata"
	maxLineBytes     = 16 * 1024 * 1024
)

// FileStorage stores one JSONL file per session: a metadata line followed by
// one line per message. Files are replaced atomically on Save.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

type metadataLine struct {
	Type      string            `json:"_type"`
	Key       string            `json:"key"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create sessions directory %s: %w", dir, err)
	}
	return &FileStorage{dir: dir}, nil
}

// fileName maps a session key to a safe file name. The original key is kept
// in the metadata line.
func (f *FileStorage) fileName(key string) string {
	safe := strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(key)
	return filepath.Join(f.dir, safe+sessionFileExt)
}

func (f *FileStorage) Load(_ context.Context, key string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := readSessionFile(f.fileName(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.Key == "" {
		snap.Key = key
	}
	return snap, nil
}

func readSessionFile(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	snap := &Snapshot{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var meta metadataLine
			if err := json.Unmarshal(line, &meta); err == nil && meta.Type == metadataLineType {
				snap.Key = meta.Key
				snap.CreatedAt = meta.CreatedAt
				snap.UpdatedAt = meta.UpdatedAt
				snap.Metadata = meta.Metadata
				continue
			}
		}
		var msg domain.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		snap.Messages = append(snap.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

func (f *FileStorage) Save(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.fileName(snap.Key)
	tmp, err := os.CreateTemp(f.dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	meta := metadataLine{
		Type:      metadataLineType,
		Key:       snap.Key,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
		Metadata:  snap.Metadata,
	}
	if err := enc.Encode(meta); err != nil {
		tmp.Close()
		return fmt.Errorf("encode metadata: %w", err)
	}
	for _, msg := range snap.Messages {
		if err := enc.Encode(msg); err != nil {
			tmp.Close()
			return fmt.Errorf("encode message: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (f *FileStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.fileName(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileStorage) List(_ context.Context) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sessionFileExt) {
			continue
		}
		snap, err := readSessionFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		key := snap.Key
		if key == "" {
			key = strings.TrimSuffix(e.Name(), sessionFileExt)
		}
		out = append(out, Summary{Key: key, MessageCount: len(snap.Messages), UpdatedAt: snap.UpdatedAt})
	}
	sortSummaries(out)
	return out, nil
}

func (f *FileStorage) Close() error { return nil }
