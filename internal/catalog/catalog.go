// Package catalog loads drill problems from YAML language packs and serves
// immutable snapshots of them.
package catalog

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
)

// Catalog provides access to the current snapshot. Readers always see a
// complete snapshot; Reload swaps in a new one atomically.
type Catalog struct {
	loader  *Loader
	current atomic.Pointer[Snapshot]
}

// New creates a catalog backed by a loader. Call Load before use.
func New(loader *Loader) *Catalog {
	return &Catalog{loader: loader}
}

// NewFromSnapshot creates a catalog that serves a fixed snapshot.
func NewFromSnapshot(s *Snapshot) *Catalog {
	c := &Catalog{}
	c.current.Store(s)
	return c
}

// Load reads all packs and makes them the current snapshot.
func (c *Catalog) Load() error {
	if c.loader == nil {
		return fmt.Errorf("%w: catalog has no loader", domain.ErrInvalidInput)
	}

	s, err := c.loader.LoadAll()
	if err != nil {
		return err
	}

	prev := c.current.Swap(s)
	stats := s.Stats()
	if prev == nil {
		slog.Info("catalog loaded", "problems", stats.ProblemCount, "languages", len(stats.ByLanguage))
	} else {
		slog.Info("catalog reloaded", "problems", stats.ProblemCount, "previous", prev.Len())
	}
	return nil
}

// Reload rebuilds the snapshot. On failure the previous snapshot stays in
// service.
func (c *Catalog) Reload() error {
	if err := c.Load(); err != nil {
		slog.Warn("catalog reload failed, keeping previous snapshot", "error", err)
		return fmt.Errorf("reload catalog: %w", err)
	}
	return nil
}

// Snapshot returns the current snapshot, or nil before the first Load.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Problem looks up a problem in the current snapshot
func (c *Catalog) Problem(id string) (*domain.Problem, error) {
	s := c.Snapshot()
	if s == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProblemNotFound, id)
	}
	return s.Problem(id)
}
