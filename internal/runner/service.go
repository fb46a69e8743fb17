package runner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/sandbox"
)

// Config holds runner configuration
type Config struct {
	Timeout    time.Duration
	Limits     sandbox.Limits
	Toolchains map[string]Toolchain
}

// DefaultConfig returns default runner configuration
func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Second,
		Limits:     sandbox.DefaultLimits(),
		Toolchains: DefaultToolchains(),
	}
}

// Service routes runs to language adapters and tracks them so that a
// pending run can be canceled by id.
type Service struct {
	config   Config
	adapters map[string]Adapter

	mu      sync.Mutex
	running map[uuid.UUID]*runState
}

type runState struct {
	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewService creates a runner service. Lua always runs in-process; the
// harnessed languages are registered only when a sandbox runtime is given.
func NewService(cfg Config, rt sandbox.Runtime) (*Service, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Toolchains == nil {
		cfg.Toolchains = DefaultToolchains()
	}

	s := &Service{
		config:   cfg,
		adapters: make(map[string]Adapter),
		running:  make(map[uuid.UUID]*runState),
	}
	s.Register(NewLuaAdapter(cfg.Limits))

	if rt == nil {
		return s, nil
	}
	for lang, tc := range cfg.Toolchains {
		adapter, err := NewProcessAdapter(lang, tc, rt, cfg.Limits)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", lang, err)
		}
		s.Register(adapter)
	}
	return s, nil
}

// Register adds or replaces the adapter for its language.
func (s *Service) Register(a Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[a.Language()] = a
}

// Adapter returns the adapter registered for lang.
func (s *Service) Adapter(lang string) (Adapter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.adapters[lang]
	return a, ok
}

// Languages returns the languages that have an adapter, sorted.
func (s *Service) Languages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	langs := make([]string, 0, len(s.adapters))
	for lang := range s.adapters {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// Timeout returns the default per-run timeout.
func (s *Service) Timeout() time.Duration {
	return s.config.Timeout
}

// Run executes one submission in lang. A zero id runs untracked. A missing
// adapter is reported as SandboxUnavailable.
func (s *Service) Run(ctx context.Context, id uuid.UUID, lang string, req Request) Outcome {
	adapter, ok := s.Adapter(lang)
	if !ok {
		return failure(domain.ErrorSandboxUnavailable, fmt.Sprintf("%s: %s", ErrNoAdapter, lang))
	}
	if req.Timeout <= 0 {
		req.Timeout = s.config.Timeout
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if id != uuid.Nil {
		state := &runState{cancel: cancel, doneCh: make(chan struct{})}
		if s.track(id, state) {
			defer s.untrack(id, state)
		}
	}

	start := time.Now()
	out := adapter.Run(ctx, req)
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}
	if out.Kind == domain.ErrorSandboxUnavailable {
		slog.Warn("sandbox unavailable", "language", lang, "diagnostics", out.Diagnostics)
	}
	return out
}

func (s *Service) track(id uuid.UUID, state *runState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.running[id]; exists {
		return false
	}
	s.running[id] = state
	return true
}

func (s *Service) untrack(id uuid.UUID, state *runState) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
	close(state.doneCh)
}

// Cancel cancels a running execution
func (s *Service) Cancel(id uuid.UUID) error {
	s.mu.Lock()
	state, ok := s.running[id]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	state.cancel()
	return nil
}

// IsRunning checks if a run is currently executing
func (s *Service) IsRunning(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// Wait waits for a run to complete
func (s *Service) Wait(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	state, ok := s.running[id]
	s.mu.Unlock()

	if !ok {
		return nil // Already completed
	}

	select {
	case <-state.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
