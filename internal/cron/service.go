package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"conduit/internal/bus"
)

// Handler runs a fired job and returns the agent's answer.
type Handler func(ctx context.Context, job Job) (string, error)

type ServiceConfig struct {
	StorePath    string // jobs.json; empty keeps jobs in memory only
	Handler      Handler
	Events       *bus.EventBus
	Logger       *slog.Logger
	TickInterval time.Duration
	Now          func() time.Time
}

// Service keeps scheduled jobs, persists them and fires them from a ticker loop.
type Service struct {
	storePath string
	handler   Handler
	events    *bus.EventBus
	logger    *slog.Logger
	tick      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	jobs    map[string]*Job
	running atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		storePath: cfg.StorePath,
		handler:   cfg.Handler,
		events:    cfg.Events,
		logger:    cfg.Logger,
		tick:      cfg.TickInterval,
		now:       cfg.Now,
		jobs:      make(map[string]*Job),
		stopCh:    make(chan struct{}),
	}
}

// SetHandler replaces the fire handler. It must be called before Start.
func (s *Service) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Load reads the job store. A missing file is not an error.
func (s *Service) Load() error {
	if s.storePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.storePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cron store: %w", err)
	}
	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse cron store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*Job, len(sf.Jobs))
	for i := range sf.Jobs {
		job := sf.Jobs[i]
		s.jobs[job.ID] = &job
	}
	return nil
}

// saveLocked writes the store atomically. Caller holds s.mu.
func (s *Service) saveLocked() error {
	if s.storePath == "" {
		return nil
	}
	sf := storeFile{Version: 1, Jobs: s.sortedLocked()}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		return fmt.Errorf("create cron dir: %w", err)
	}
	tmp := s.storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := os.Rename(tmp, s.storePath); err != nil {
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}

// Validate checks a schedule without adding it.
func Validate(sched Schedule) error {
	switch sched.Kind {
	case KindEvery:
		if sched.EveryMs <= 0 {
			return fmt.Errorf("every schedule needs a positive interval")
		}
	case KindCron:
		if strings.TrimSpace(sched.Expr) == "" {
			return fmt.Errorf("cron schedule needs an expression")
		}
		if !gronx.New().IsValid(sched.Expr) {
			return fmt.Errorf("invalid cron expression %q", sched.Expr)
		}
		if sched.TZ != "" {
			if _, err := time.LoadLocation(sched.TZ); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", sched.TZ, err)
			}
		}
	case KindAt:
		if sched.AtMs <= 0 {
			return fmt.Errorf("at schedule needs a time")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}
	return nil
}

// nextRun returns the next fire time in unix ms after now, or 0 when the
// schedule will not fire again.
func nextRun(sched Schedule, now time.Time) int64 {
	switch sched.Kind {
	case KindEvery:
		if sched.EveryMs <= 0 {
			return 0
		}
		return now.UnixMilli() + sched.EveryMs
	case KindAt:
		if sched.AtMs > now.UnixMilli() {
			return sched.AtMs
		}
		return 0
	case KindCron:
		ref := now
		if sched.TZ != "" {
			if loc, err := time.LoadLocation(sched.TZ); err == nil {
				ref = now.In(loc)
			}
		}
		next, err := gronx.NextTickAfter(sched.Expr, ref, false)
		if err != nil {
			return 0
		}
		return next.UnixMilli()
	}
	return 0
}

// Add creates an enabled job and persists it.
func (s *Service) Add(name string, sched Schedule, payload Payload, deleteAfterRun bool) (*Job, error) {
	if err := Validate(sched); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Message) == "" {
		return nil, fmt.Errorf("job message is empty")
	}
	now := s.now()
	job := &Job{
		ID:             uuid.NewString()[:8],
		Name:           name,
		Enabled:        true,
		Schedule:       sched,
		Payload:        payload,
		State:          JobState{NextRunAtMs: nextRun(sched, now)},
		CreatedAtMs:    now.UnixMilli(),
		UpdatedAtMs:    now.UnixMilli(),
		DeleteAfterRun: deleteAfterRun,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	if err := s.saveLocked(); err != nil {
		delete(s.jobs, job.ID)
		return nil, err
	}
	s.logger.Info("cron job added", "id", job.ID, "name", name, "kind", sched.Kind)
	out := *job
	return &out, nil
}

func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	s.logger.Info("cron job removed", "id", id)
	return s.saveLocked()
}

// Enable toggles a job. Re-enabling recomputes its next run.
func (s *Service) Enable(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	now := s.now()
	job.Enabled = enabled
	job.UpdatedAtMs = now.UnixMilli()
	if enabled {
		job.State.NextRunAtMs = nextRun(job.Schedule, now)
	} else {
		job.State.NextRunAtMs = 0
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	out := *job
	return &out, nil
}

// List returns jobs ordered by next run; jobs with no next run sort last.
func (s *Service) List(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedLocked()
	if includeDisabled {
		return all
	}
	out := all[:0]
	for _, j := range all {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out
}

func (s *Service) sortedLocked() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].State.NextRunAtMs, out[j].State.NextRunAtMs
		if (a == 0) != (b == 0) {
			return b == 0
		}
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running.Load(), Jobs: len(s.jobs)}
	for _, j := range s.jobs {
		if !j.Enabled {
			continue
		}
		st.Enabled++
		if n := j.State.NextRunAtMs; n > 0 && (st.NextWakeAtMs == 0 || n < st.NextWakeAtMs) {
			st.NextWakeAtMs = n
		}
	}
	return st
}

// RunNow fires a job immediately, enabled or not.
func (s *Service) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return s.execute(ctx, snapshot)
}

// Start loads the store and fires due jobs until ctx is done or Stop is
// called. It blocks.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Load(); err != nil {
		return err
	}

	s.mu.Lock()
	now := s.now()
	for _, j := range s.jobs {
		if j.Enabled && (j.State.NextRunAtMs == 0 || j.Schedule.Kind != KindAt) {
			j.State.NextRunAtMs = nextRun(j.Schedule, now)
		}
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("cron store save failed", "err", err)
	}
	s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)
	s.logger.Info("cron service started", "jobs", s.Status().Jobs)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cron service stopping")
			return nil
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// Stop halts Start. Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) runDue(ctx context.Context) {
	nowMs := s.now().UnixMilli()
	s.mu.Lock()
	var due []Job
	for _, j := range s.jobs {
		if j.Enabled && j.State.NextRunAtMs > 0 && j.State.NextRunAtMs <= nowMs {
			due = append(due, *j)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].State.NextRunAtMs < due[j].State.NextRunAtMs })
	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.execute(ctx, j); err != nil {
			s.logger.Warn("cron job failed", "id", j.ID, "name", j.Name, "err", err)
		}
	}
}

// execute runs the handler outside the lock, then records the outcome and
// reschedules.
func (s *Service) execute(ctx context.Context, job Job) error {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	s.logger.Info("cron job firing", "id", job.ID, "name", job.Name)
	var runErr error
	if handler == nil {
		runErr = fmt.Errorf("no cron handler configured")
	} else {
		_, runErr = handler(ctx, job)
	}

	s.events.Emit(bus.Event{
		Type:    bus.EventCronFired,
		Source:  "cron",
		Payload: map[string]any{"id": job.ID, "name": job.Name, "ok": runErr == nil},
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return runErr
	}
	now := s.now()
	current.State.LastRunAtMs = now.UnixMilli()
	current.UpdatedAtMs = now.UnixMilli()
	if runErr != nil {
		current.State.LastStatus = "error"
		current.State.LastError = runErr.Error()
	} else {
		current.State.LastStatus = "ok"
		current.State.LastError = ""
	}

	if current.Schedule.Kind == KindAt {
		if current.DeleteAfterRun {
			delete(s.jobs, current.ID)
		} else {
			current.Enabled = false
			current.State.NextRunAtMs = 0
		}
	} else if current.Enabled {
		current.State.NextRunAtMs = nextRun(current.Schedule, now)
	}

	if err := s.saveLocked(); err != nil {
		s.logger.Warn("cron store save failed", "err", err)
	}
	return runErr
}
