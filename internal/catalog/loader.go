package catalog

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/language"
)

// PackFile represents the YAML structure of one language pack
type PackFile struct {
	Language    string        `yaml:"language" validate:"required"`
	Name        string        `yaml:"name"`
	Version     string        `yaml:"version"`
	Description string        `yaml:"description"`
	Problems    []ProblemFile `yaml:"problems" validate:"required,dive"`
}

// ProblemFile represents the YAML structure of one problem
type ProblemFile struct {
	ID             string    `yaml:"id" validate:"required"`
	Category       string    `yaml:"category"`
	Difficulty     string    `yaml:"difficulty" validate:"required,oneof=easy medium hard"`
	Prompt         string    `yaml:"prompt" validate:"required"`
	Setup          string    `yaml:"setup"`
	Expected       yaml.Node `yaml:"expected" validate:"-"`
	Compare        string    `yaml:"compare" validate:"omitempty,oneof=ordered unordered none nan any_of"`
	SampleSolution string    `yaml:"sample_solution" validate:"required"`
	Patterns       []string  `yaml:"patterns" validate:"dive,required"`
	Hints          []string  `yaml:"hints"`
	Tags           []string  `yaml:"tags"`
}

// Loader reads language packs from a file system. Every *.yaml or *.yml
// file below the root is one pack.
type Loader struct {
	fsys      fs.FS
	languages *language.Registry
	validate  *validator.Validate
}

// NewLoader creates a new catalog loader
func NewLoader(fsys fs.FS, languages *language.Registry) *Loader {
	if languages == nil {
		languages = language.Default()
	}
	return &Loader{
		fsys:      fsys,
		languages: languages,
		validate:  validator.New(),
	}
}

// Languages returns the language table the loader validates against.
func (l *Loader) Languages() *language.Registry {
	return l.languages
}

// LoadPack loads and validates the problems of a single pack file.
func (l *Loader) LoadPack(name string) ([]*domain.Problem, error) {
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read pack file: %w", err)
	}

	var pack PackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse pack file %s: %w", name, err)
	}
	if err := l.validate.Struct(pack); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidProblem, name, err)
	}

	lang, ok := l.languages.Lookup(pack.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrUnknownLanguage, name, pack.Language)
	}

	problems := make([]*domain.Problem, 0, len(pack.Problems))
	for i := range pack.Problems {
		p, err := l.buildProblem(lang, &pack.Problems[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		problems = append(problems, p)
	}
	return problems, nil
}

// LoadAll loads every pack and builds a snapshot from them.
func (l *Loader) LoadAll() (*Snapshot, error) {
	var problems []*domain.Problem
	err := fs.WalkDir(l.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
		default:
			return nil
		}

		pack, err := l.LoadPack(p)
		if err != nil {
			return err
		}
		problems = append(problems, pack...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	return NewSnapshot(problems)
}

func (l *Loader) buildProblem(lang language.Language, f *ProblemFile) (*domain.Problem, error) {
	if !strings.HasPrefix(f.ID, lang.ID+"-") {
		return nil, fmt.Errorf("%w: %s: id must start with %q", domain.ErrInvalidProblem, f.ID, lang.ID+"-")
	}

	p := &domain.Problem{
		ID:             f.ID,
		Language:       lang.ID,
		Category:       f.Category,
		Difficulty:     domain.Difficulty(f.Difficulty),
		Prompt:         strings.TrimSpace(f.Prompt),
		SetupCode:      f.Setup,
		SampleSolution: f.SampleSolution,
		ValidPatterns:  f.Patterns,
		Hints:          f.Hints,
		Tags:           f.Tags,
	}

	switch lang.Family {
	case language.Declarative:
		if len(f.Patterns) == 0 {
			return nil, fmt.Errorf("%w: %s: declarative problems need patterns", domain.ErrInvalidProblem, f.ID)
		}
		if f.Compare != "" {
			return nil, fmt.Errorf("%w: %s: declarative problems are graded by pattern only", domain.ErrInvalidProblem, f.ID)
		}
		// An expected value is kept for display and never compared.
		p.Expected = domain.Expectation{Mode: domain.CompareNone}
		if !f.Expected.IsZero() {
			if err := f.Expected.Decode(&p.Expected.Value); err != nil {
				return nil, fmt.Errorf("%w: %s: expected: %v", domain.ErrInvalidProblem, f.ID, err)
			}
		}

	case language.Imperative:
		if len(f.Patterns) > 0 {
			return nil, fmt.Errorf("%w: %s: %s problems are graded by execution, not patterns", domain.ErrInvalidProblem, f.ID, lang.ID)
		}
		exp, err := buildExpectation(f)
		if err != nil {
			return nil, err
		}
		p.Expected = exp
	}

	return p, nil
}

func buildExpectation(f *ProblemFile) (domain.Expectation, error) {
	mode := domain.CompareMode(f.Compare)
	present := !f.Expected.IsZero()
	if mode == "" {
		mode = domain.CompareNone
		if present {
			mode = domain.CompareOrdered
		}
	}

	var value any
	if present {
		if err := f.Expected.Decode(&value); err != nil {
			return domain.Expectation{}, fmt.Errorf("%w: %s: expected: %v", domain.ErrInvalidProblem, f.ID, err)
		}
	}

	switch mode {
	case domain.CompareOrdered, domain.CompareUnordered:
		if !present {
			return domain.Expectation{}, fmt.Errorf("%w: %s: %s comparison needs an expected value", domain.ErrInvalidProblem, f.ID, mode)
		}
	case domain.CompareAnyOf:
		options, ok := value.([]any)
		if !ok || len(options) == 0 {
			return domain.Expectation{}, fmt.Errorf("%w: %s: any_of needs a non-empty list of accepted values", domain.ErrInvalidProblem, f.ID)
		}
	case domain.CompareNone, domain.CompareNaN:
		if present {
			return domain.Expectation{}, fmt.Errorf("%w: %s: %s comparison takes no expected value", domain.ErrInvalidProblem, f.ID, mode)
		}
	}

	return domain.Expectation{Mode: mode, Value: value}, nil
}
