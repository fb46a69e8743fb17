package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/drillgrade/internal/compare"
	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/grader"
)

// ErrNoCatalog is returned while the engine has no catalog loaded
var ErrNoCatalog = errors.New("catalog not loaded")

// Server exposes the grading engine as MCP tools
type Server struct {
	mcpServer *server.Server
	engine    *grader.Engine
}

// Config contains configuration for the MCP server
type Config struct {
	Engine  *grader.Engine
	Version string
}

// NewServer creates a new MCP server for drillgrade
func NewServer(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{engine: cfg.Engine}

	s.mcpServer = server.New(server.Info{
		Name:    "drillgrade",
		Version: cfg.Version,
	}, server.WithInstructions(`
drillgrade grades short code drills across programming and query languages.

Available tools:
- drill_list: List drills, optionally filtered by language, difficulty or tag
- drill_problem: Show the prompt and setup of one drill
- drill_validate: Grade a submission against a drill

Query languages (SQL dialects, MongoDB, Redis, Cypher) are graded by pattern
matching. Programming languages are run in a sandbox and the value of the
final expression is compared with the expected value.
`))

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("drill_validate").
		Description("Grade a submission against a drill. Returns pass/fail with diagnostics and the next hint on failure.").
		Handler(s.handleValidate)

	s.mcpServer.Tool("drill_problem").
		Description("Show the prompt, setup code and metadata of a drill.").
		Handler(s.handleProblem)

	s.mcpServer.Tool("drill_list").
		Description("List drills in the catalog.").
		Handler(s.handleList)
}

// Input/Output types for tools

type ValidateInput struct {
	ProblemID string `json:"problem_id" jsonschema:"description=Drill ID such as python-sum-list"`
	Code      string `json:"code" jsonschema:"description=Submitted code or query"`
	HintsSeen int    `json:"hints_seen,omitempty" jsonschema:"description=Number of hints already shown for this drill"`
}

type ValidateOutput struct {
	ProblemID     string   `json:"problem_id"`
	Passed        bool     `json:"passed"`
	Mode          string   `json:"mode,omitempty"`
	MatchedIndex  *int     `json:"matched_pattern_index,omitempty"`
	ActualValue   string   `json:"actual_value,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Diagnostics   []string `json:"diagnostics"`
	NextHint      string   `json:"next_hint,omitempty"`
	DurationMs    int64    `json:"duration_ms"`
	Summary       string   `json:"summary"`
}

type ProblemInput struct {
	ProblemID string `json:"problem_id" jsonschema:"description=Drill ID such as sql-select-all"`
}

type ProblemOutput struct {
	ID         string   `json:"id"`
	Language   string   `json:"language"`
	Category   string   `json:"category"`
	Difficulty string   `json:"difficulty"`
	Mode       string   `json:"mode"`
	Prompt     string   `json:"prompt"`
	Setup      string   `json:"setup,omitempty"`
	HintCount  int      `json:"hint_count"`
	Tags       []string `json:"tags,omitempty"`
}

type ListInput struct {
	Language   string `json:"language,omitempty" jsonschema:"description=Only drills of this language"`
	Difficulty string `json:"difficulty,omitempty" jsonschema:"description=Only drills of this difficulty,enum=easy,enum=medium,enum=hard"`
	Tag        string `json:"tag,omitempty" jsonschema:"description=Only drills carrying this tag"`
}

type ListItem struct {
	ID         string `json:"id"`
	Language   string `json:"language"`
	Difficulty string `json:"difficulty"`
	Category   string `json:"category"`
}

type ListOutput struct {
	Count  int        `json:"count"`
	Drills []ListItem `json:"drills"`
}

// Tool handlers

func (s *Server) handleValidate(ctx context.Context, input ValidateInput) (ValidateOutput, error) {
	if s.engine == nil {
		return ValidateOutput{}, ErrNoCatalog
	}
	if input.ProblemID == "" {
		return ValidateOutput{}, fmt.Errorf("%w: problem_id is required", domain.ErrInvalidInput)
	}

	r := s.engine.Validate(ctx, input.ProblemID, input.Code)

	out := ValidateOutput{
		ProblemID:     r.ProblemID,
		Passed:        r.Passed,
		Mode:          string(r.Mode),
		MatchedIndex:  r.MatchedPatternIndex,
		FailureReason: string(r.FailureReason),
		Diagnostics:   r.Diagnostics,
		DurationMs:    r.Duration.Milliseconds(),
	}
	if r.ActualValue != nil {
		out.ActualValue = compare.Format(r.ActualValue)
	}
	if hint, ok := r.NextHint(input.HintsSeen); ok {
		out.NextHint = hint
	}
	out.Summary = summarize(r)

	return out, nil
}

func summarize(r *domain.ValidationResult) string {
	if r.Passed {
		return "Passed ✓"
	}
	reason := strings.ReplaceAll(string(r.FailureReason), "_", " ")
	if r.FailureReason.Retryable() {
		return fmt.Sprintf("Not graded: %s, try again", reason)
	}
	return fmt.Sprintf("Failed ✗ (%s)", reason)
}

func (s *Server) handleProblem(ctx context.Context, input ProblemInput) (ProblemOutput, error) {
	if s.engine == nil {
		return ProblemOutput{}, ErrNoCatalog
	}

	p, err := s.engine.Catalog().Problem(input.ProblemID)
	if err != nil {
		return ProblemOutput{}, err
	}

	out := ProblemOutput{
		ID:         p.ID,
		Language:   p.Language,
		Category:   p.Category,
		Difficulty: string(p.Difficulty),
		Prompt:     strings.TrimSpace(p.Prompt),
		Setup:      strings.TrimSpace(p.SetupCode),
		HintCount:  len(p.Hints),
		Tags:       p.Tags,
	}
	if family, err := s.engine.Languages().Family(p.Language); err == nil {
		out.Mode = string(family.Mode())
	}
	return out, nil
}

func (s *Server) handleList(ctx context.Context, input ListInput) (ListOutput, error) {
	if s.engine == nil {
		return ListOutput{}, ErrNoCatalog
	}
	snap := s.engine.Catalog().Snapshot()
	if snap == nil {
		return ListOutput{}, ErrNoCatalog
	}

	problems := snap.Problems()
	if input.Language != "" {
		problems = snap.ByLanguage(input.Language)
	}

	out := ListOutput{Drills: []ListItem{}}
	for _, p := range problems {
		if input.Difficulty != "" && string(p.Difficulty) != input.Difficulty {
			continue
		}
		if input.Tag != "" && !p.HasTag(input.Tag) {
			continue
		}
		out.Drills = append(out.Drills, ListItem{
			ID:         p.ID,
			Language:   p.Language,
			Difficulty: string(p.Difficulty),
			Category:   p.Category,
		})
	}
	out.Count = len(out.Drills)
	return out, nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
