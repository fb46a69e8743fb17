// Package grader decides whether a submission solves a drill. Declarative
// languages are graded by pattern matching, imperative languages by running
// the submission and comparing the value it produces.
package grader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/drillgrade/internal/catalog"
	"github.com/felixgeelhaar/drillgrade/internal/compare"
	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/language"
	"github.com/felixgeelhaar/drillgrade/internal/pattern"
	"github.com/felixgeelhaar/drillgrade/internal/runner"
)

// Sandbox runs imperative submissions. *runner.Service implements it.
type Sandbox interface {
	Run(ctx context.Context, id uuid.UUID, lang string, req runner.Request) runner.Outcome
	Cancel(id uuid.UUID) error
}

// Config holds engine configuration
type Config struct {
	// Timeout bounds each sandbox run (default: 5s)
	Timeout time.Duration

	// PoolSize bounds concurrent validations in ValidateAll (default: 4)
	PoolSize int

	// Languages maps language ids to families (default: language.Default())
	Languages *language.Registry
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		Timeout:   5 * time.Second,
		PoolSize:  4,
		Languages: language.Default(),
	}
}

// Engine grades submissions against the current catalog snapshot.
type Engine struct {
	catalog   *catalog.Catalog
	sandbox   Sandbox
	languages *language.Registry
	config    Config
}

// NewEngine creates a grading engine
func NewEngine(cat *catalog.Catalog, sandbox Sandbox, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.Languages == nil {
		cfg.Languages = def.Languages
	}
	return &Engine{
		catalog:   cat,
		sandbox:   sandbox,
		languages: cfg.Languages,
		config:    cfg,
	}
}

// Languages returns the language registry used to pick a grading mode
func (e *Engine) Languages() *language.Registry {
	return e.languages
}

// Catalog returns the catalog the engine grades against
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Validate grades text against the problem with the given id.
func (e *Engine) Validate(ctx context.Context, problemID, text string) *domain.ValidationResult {
	return e.Submit(ctx, domain.ValidationRequest{ProblemID: problemID, SubmittedText: text})
}

// Submit grades one request. A non-zero request id can be passed to Cancel
// while the submission runs.
func (e *Engine) Submit(ctx context.Context, req domain.ValidationRequest) *domain.ValidationResult {
	snap := e.catalog.Snapshot()
	if snap == nil {
		return compose(req.ProblemID, "", failed(domain.ErrorNotFound, "catalog is not loaded"), nil)
	}

	p, err := snap.Problem(req.ProblemID)
	if err != nil {
		return compose(req.ProblemID, "", failed(domain.ErrorNotFound, fmt.Sprintf("unknown problem %q", req.ProblemID)), nil)
	}
	return e.validate(ctx, snap, req.ID, p, req.SubmittedText)
}

// ValidateProblem grades text against a problem record that need not be
// part of the catalog.
func (e *Engine) ValidateProblem(ctx context.Context, p *domain.Problem, text string) *domain.ValidationResult {
	return e.validate(ctx, e.catalog.Snapshot(), uuid.Nil, p, text)
}

// ValidateAll grades a batch concurrently. Every request gets a result,
// keyed by problem id; for repeated ids the last request wins. A canceled
// ctx yields Canceled results for the requests that had not finished.
func (e *Engine) ValidateAll(ctx context.Context, reqs []domain.ValidationRequest) map[string]*domain.ValidationResult {
	results := make([]*domain.ValidationResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(e.config.PoolSize)
	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = compose(req.ProblemID, "", canceled(err), nil)
				return nil
			}
			results[i] = e.Submit(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	byProblem := make(map[string]*domain.ValidationResult, len(reqs))
	for i, req := range reqs {
		byProblem[req.ProblemID] = results[i]
	}
	return byProblem
}

// Cancel aborts the sandbox run of a pending submission.
func (e *Engine) Cancel(id uuid.UUID) error {
	if e.sandbox == nil {
		return fmt.Errorf("%w: %s", runner.ErrRunNotFound, id)
	}
	return e.sandbox.Cancel(id)
}

// Reload swaps in a freshly loaded catalog snapshot. Submissions already
// in progress finish against the snapshot they started with.
func (e *Engine) Reload() error {
	return e.catalog.Reload()
}

func (e *Engine) validate(ctx context.Context, snap *catalog.Snapshot, id uuid.UUID, p *domain.Problem, text string) *domain.ValidationResult {
	start := time.Now()

	family, err := e.languages.Family(p.Language)
	if err != nil {
		return compose(p.ID, "", failed(domain.ErrorCatalog, err.Error()), p.Hints)
	}
	mode := family.Mode()

	var o outcome
	switch {
	case strings.TrimSpace(text) == "":
		o = failed(domain.ErrorEmptySubmission, "submission is empty")
	case family == language.Declarative:
		o = e.matchPatterns(snap, p, text)
	default:
		o = e.execute(ctx, id, p, text)
	}

	r := compose(p.ID, mode, o, p.Hints)
	r.Duration = time.Since(start)

	slog.Debug("submission graded",
		"problem_id", p.ID,
		"mode", mode,
		"passed", r.Passed,
		"failure_reason", r.FailureReason,
		"duration", r.Duration,
	)
	return r
}

func (e *Engine) matchPatterns(snap *catalog.Snapshot, p *domain.Problem, text string) outcome {
	if len(p.ValidPatterns) == 0 {
		return failed(domain.ErrorCatalog, "problem has no patterns")
	}

	var (
		set *pattern.Set
		err error
	)
	if snap != nil {
		set, err = snap.Patterns(p)
	} else {
		set, err = pattern.Compile(p.ValidPatterns)
	}
	if err != nil {
		return failed(domain.ErrorCatalog, err.Error())
	}

	idx := set.Match(text)
	if idx < 0 {
		return failed(domain.ErrorNoPatternMatch,
			fmt.Sprintf("submission matches none of the %d accepted patterns", set.Len()))
	}
	o := passed()
	o.matched = idx
	return o
}

func (e *Engine) execute(ctx context.Context, id uuid.UUID, p *domain.Problem, text string) outcome {
	if e.sandbox == nil {
		return failed(domain.ErrorSandboxUnavailable, "no sandbox configured")
	}

	res := e.sandbox.Run(ctx, id, p.Language, runner.Request{
		Setup:   p.SetupCode,
		Code:    text,
		Timeout: e.config.Timeout,
		Capture: p.Expected.Checks(),
	})
	if res.Failed() {
		return failed(res.Kind, res.Diagnostics...)
	}

	o := passed()
	o.diagnostics = res.Diagnostics
	if !p.Expected.Checks() {
		return o
	}
	if !res.HasValue {
		return failed(domain.ErrorValueMismatch,
			"no value produced: end the submission with an expression or an assignment",
			"expected: "+compare.Format(p.Expected.Value))
	}

	o.value, o.hasValue = res.Value, true
	if !compare.Equal(p.Expected, res.Value) {
		o.kind = domain.ErrorValueMismatch
		o.diagnostics = append(compare.Describe(p.Expected, res.Value), res.Diagnostics...)
	}
	return o
}

func canceled(err error) outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return failed(domain.ErrorTimeout, "batch deadline exceeded before the submission ran")
	}
	return failed(domain.ErrorCanceled, "batch was canceled before the submission ran")
}
