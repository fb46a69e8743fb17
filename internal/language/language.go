// Package language maps language identifiers to the family that decides how
// their submissions are graded.
package language

import (
	"fmt"
	"slices"
	"strings"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
)

// Family groups languages by grading strategy.
type Family string

const (
	// Declarative languages are graded by structural pattern matching.
	Declarative Family = "declarative"
	// Imperative languages are graded by executing the submission.
	Imperative Family = "imperative"
)

// Mode returns the grading mode used for the family.
func (f Family) Mode() domain.Mode {
	if f == Declarative {
		return domain.ModePattern
	}
	return domain.ModeExecution
}

// Well-known language identifiers
const (
	Go         = "go"
	Python     = "python"
	JavaScript = "javascript"
	Ruby       = "ruby"
	Lua        = "lua"

	SQL        = "sql"
	PostgreSQL = "postgresql"
	MySQL      = "mysql"
	SQLite     = "sqlite"
	MongoDB    = "mongodb"
	Redis      = "redis"
	Cypher     = "cypher"
)

// Language describes one catalog language.
type Language struct {
	ID     string
	Name   string
	Family Family
}

// Registry is an explicit language table. It is safe for concurrent reads
// once constructed.
type Registry struct {
	langs map[string]Language
}

// NewRegistry creates a registry holding the given languages.
func NewRegistry(langs ...Language) *Registry {
	r := &Registry{langs: make(map[string]Language, len(langs))}
	for _, l := range langs {
		r.langs[l.ID] = l
	}
	return r
}

// Default returns the registry of every language the catalog may use.
func Default() *Registry {
	return NewRegistry(
		Language{ID: Go, Name: "Go", Family: Imperative},
		Language{ID: Python, Name: "Python", Family: Imperative},
		Language{ID: JavaScript, Name: "JavaScript", Family: Imperative},
		Language{ID: Ruby, Name: "Ruby", Family: Imperative},
		Language{ID: Lua, Name: "Lua", Family: Imperative},
		Language{ID: SQL, Name: "SQL", Family: Declarative},
		Language{ID: PostgreSQL, Name: "PostgreSQL", Family: Declarative},
		Language{ID: MySQL, Name: "MySQL", Family: Declarative},
		Language{ID: SQLite, Name: "SQLite", Family: Declarative},
		Language{ID: MongoDB, Name: "MongoDB", Family: Declarative},
		Language{ID: Redis, Name: "Redis", Family: Declarative},
		Language{ID: Cypher, Name: "Cypher", Family: Declarative},
	)
}

// Lookup returns the language with the given id. Ids are case-insensitive.
func (r *Registry) Lookup(id string) (Language, bool) {
	l, ok := r.langs[strings.ToLower(id)]
	return l, ok
}

// Family returns the family of a language id.
func (r *Registry) Family(id string) (Family, error) {
	l, ok := r.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownLanguage, id)
	}
	return l.Family, nil
}

// IDs returns all registered language ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.langs))
	for id := range r.langs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ByFamily returns the sorted ids of languages in a family.
func (r *Registry) ByFamily(f Family) []string {
	var ids []string
	for id, l := range r.langs {
		if l.Family == f {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
