// Package regress checks the catalog against itself: every sample solution
// must pass, and unrelated text must not satisfy any pattern problem.
package regress

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/grader"
)

// NegativeText is submitted to every pattern problem and must never match.
const NegativeText = "-- no answer"

// ErrReportNotFound is returned by stores for unknown report ids
var ErrReportNotFound = errors.New("regression report not found")

// CaseKind distinguishes what a case checks.
type CaseKind string

const (
	// CaseSample submits the problem's sample solution, which must pass.
	CaseSample CaseKind = "sample"
	// CaseNegative submits NegativeText, which must not match.
	CaseNegative CaseKind = "negative"
)

// Case is the outcome of one check.
type Case struct {
	ProblemID     string           `json:"problem_id"`
	Language      string           `json:"language"`
	Kind          CaseKind         `json:"kind"`
	OK            bool             `json:"ok"`
	Skipped       bool             `json:"skipped,omitempty"`
	FailureReason domain.ErrorKind `json:"failure_reason,omitempty"`
	Diagnostics   []string         `json:"diagnostics,omitempty"`
	Duration      time.Duration    `json:"duration_ns"`
}

// Report summarizes one regression run.
type Report struct {
	ID         uuid.UUID `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Cases      []Case    `json:"cases,omitempty"`
}

// OK reports whether no case failed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

// Failures returns the failed cases
func (r *Report) Failures() []Case {
	var out []Case
	for _, c := range r.Cases {
		if !c.OK && !c.Skipped {
			out = append(out, c)
		}
	}
	return out
}

// ByLanguage counts passed and total cases per language, skipped excluded.
func (r *Report) ByLanguage() map[string][2]int {
	out := make(map[string][2]int)
	for _, c := range r.Cases {
		if c.Skipped {
			continue
		}
		counts := out[c.Language]
		if c.OK {
			counts[0]++
		}
		counts[1]++
		out[c.Language] = counts
	}
	return out
}

// Store persists reports
type Store interface {
	Save(r *Report) error
	Get(id uuid.UUID) (*Report, error)
	List(limit int) ([]*Report, error)
}

// Options selects what a run covers.
type Options struct {
	// Languages limits the run; empty means all.
	Languages []string
	// Concurrency bounds simultaneous checks (default: 4)
	Concurrency int
}

// Runner runs regression checks through a grading engine.
type Runner struct {
	engine *grader.Engine
	store  Store
}

// NewRunner creates a runner. store may be nil.
func NewRunner(engine *grader.Engine, store Store) *Runner {
	return &Runner{engine: engine, store: store}
}

// Run checks every selected problem and stores the report when a store is
// configured. Runtimes that are not available mark their cases skipped.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	snap := r.engine.Catalog().Snapshot()
	if snap == nil {
		return nil, errors.New("catalog is not loaded")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	type job struct {
		problem *domain.Problem
		kind    CaseKind
	}
	var jobs []job
	for _, p := range snap.Problems() {
		if len(opts.Languages) > 0 && !slices.Contains(opts.Languages, p.Language) {
			continue
		}
		jobs = append(jobs, job{p, CaseSample})
		if len(p.ValidPatterns) > 0 {
			jobs = append(jobs, job{p, CaseNegative})
		}
	}

	report := &Report{ID: uuid.New(), StartedAt: time.Now().UTC()}
	report.Cases = make([]Case, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			report.Cases[i] = r.check(ctx, j.problem, j.kind)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now().UTC()
	for _, c := range report.Cases {
		report.Total++
		switch {
		case c.Skipped:
			report.Skipped++
		case c.OK:
			report.Passed++
		default:
			report.Failed++
		}
	}

	slog.Info("regression run finished",
		"id", report.ID,
		"total", report.Total,
		"passed", report.Passed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)

	if r.store != nil {
		if err := r.store.Save(report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Runner) check(ctx context.Context, p *domain.Problem, kind CaseKind) Case {
	text := p.SampleSolution
	if kind == CaseNegative {
		text = NegativeText
	}

	res := r.engine.ValidateProblem(ctx, p, text)
	c := Case{
		ProblemID:     p.ID,
		Language:      p.Language,
		Kind:          kind,
		FailureReason: res.FailureReason,
		Diagnostics:   res.Diagnostics,
		Duration:      res.Duration,
	}

	switch {
	case res.FailureReason == domain.ErrorSandboxUnavailable:
		c.Skipped = true
	case kind == CaseSample:
		c.OK = res.Passed
	default:
		c.OK = res.FailureReason == domain.ErrorNoPatternMatch
	}
	return c
}
