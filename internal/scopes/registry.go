// Package scopes holds the catalogue of grantable OAuth scopes. A
// Registry is built once at startup and passed to the components that
// need it; it is never mutated afterwards.
package scopes

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/alexjbarnes/oauthd/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Scopes []models.ScopeDefinition `yaml:"scopes"`
}

// Registry is an immutable scope catalogue.
type Registry struct {
	ordered []models.ScopeDefinition
	byID    map[string]models.ScopeDefinition
}

// Validation is the result of checking requested scopes against the
// catalogue.
type Validation struct {
	Valid   []string
	Invalid []string
}

// OK reports whether no invalid scope was found.
func (v Validation) OK() bool {
	return len(v.Invalid) == 0
}

// Default returns the registry built from the embedded catalogue.
func Default() (*Registry, error) {
	return Parse(defaultCatalog)
}

// Load reads a YAML catalogue from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scope catalogue: %w", err)
	}

	return Parse(data)
}

// Parse builds a registry from YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing scope catalogue: %w", err)
	}

	return New(f.Scopes)
}

// New builds a registry from definitions. Ids must be unique and
// non-empty, and every category must be known.
func New(defs []models.ScopeDefinition) (*Registry, error) {
	r := &Registry{
		ordered: make([]models.ScopeDefinition, 0, len(defs)),
		byID:    make(map[string]models.ScopeDefinition, len(defs)),
	}

	for i, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("scope %d has an empty id", i)
		}

		if strings.ContainsAny(d.ID, " \t\n") {
			return nil, fmt.Errorf("scope %q contains whitespace", d.ID)
		}

		if !d.Category.Valid() {
			return nil, fmt.Errorf("scope %q has unknown category %q", d.ID, d.Category)
		}

		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate scope %q", d.ID)
		}

		r.byID[d.ID] = d
		r.ordered = append(r.ordered, d)
	}

	return r, nil
}

// All returns every scope definition in catalogue order.
func (r *Registry) All() []models.ScopeDefinition {
	return slices.Clone(r.ordered)
}

// Lookup returns the definition for id.
func (r *Registry) Lookup(id string) (models.ScopeDefinition, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Defaults returns the ids of scopes flagged as default.
func (r *Registry) Defaults() []string {
	var ids []string

	for _, d := range r.ordered {
		if d.IsDefault {
			ids = append(ids, d.ID)
		}
	}

	return ids
}

// Validate splits requested into known and unknown scope ids. Duplicates
// are collapsed and order is preserved. It never fails; callers decide
// whether invalid entries are fatal.
func (r *Registry) Validate(requested []string) Validation {
	var v Validation

	seen := make(map[string]struct{}, len(requested))

	for _, s := range requested {
		if _, dup := seen[s]; dup {
			continue
		}

		seen[s] = struct{}{}

		if _, ok := r.byID[s]; ok {
			v.Valid = append(v.Valid, s)
		} else {
			v.Invalid = append(v.Invalid, s)
		}
	}

	return v
}

// Clip returns the scopes of requested that are both known to the
// registry and present in ceiling, and the ones that are not.
func (r *Registry) Clip(requested, ceiling []string) (granted, rejected []string) {
	v := r.Validate(requested)
	rejected = append(rejected, v.Invalid...)

	for _, s := range v.Valid {
		if slices.Contains(ceiling, s) {
			granted = append(granted, s)
		} else {
			rejected = append(rejected, s)
		}
	}

	return granted, rejected
}

// Split parses a space-delimited scope parameter (RFC 6749 Section 3.3).
func Split(param string) []string {
	return strings.Fields(param)
}

// Join renders scopes as a space-delimited scope parameter.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Satisfies reports whether granted includes required. An empty required
// scope is always satisfied.
func Satisfies(required string, granted []string) bool {
	if required == "" {
		return true
	}

	return slices.Contains(granted, required)
}

// SatisfiesAll reports whether every required scope is granted.
func SatisfiesAll(required, granted []string) bool {
	for _, s := range required {
		if !Satisfies(s, granted) {
			return false
		}
	}

	return true
}

// IsSubset reports whether every scope in sub is present in set.
func IsSubset(sub, set []string) bool {
	return SatisfiesAll(sub, set)
}
