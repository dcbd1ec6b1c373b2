// Package language maps symbolic language names to remote executor ids.
package language

import (
	"sort"
	"strings"

	appErr "codejudge/pkg/errors"
)

// DefaultTable holds the Judge0 CE language ids used when no table is configured.
var DefaultTable = map[string]int{
	"C":          50,
	"CPP":        54,
	"GO":         60,
	"JAVA":       62,
	"JAVASCRIPT": 63,
	"PYTHON":     71,
}

// Registry is a static lookup table. It is safe for concurrent reads.
type Registry struct {
	ids map[string]int
}

// NewRegistry copies table with upper-cased keys. An empty table selects DefaultTable.
func NewRegistry(table map[string]int) *Registry {
	if len(table) == 0 {
		table = DefaultTable
	}
	ids := make(map[string]int, len(table))
	for name, id := range table {
		name = normalize(name)
		if name == "" || id <= 0 {
			continue
		}
		ids[name] = id
	}
	return &Registry{ids: ids}
}

// Resolve returns the numeric id for name.
func (r *Registry) Resolve(name string) (int, error) {
	id, ok := r.ids[normalize(name)]
	if !ok {
		return 0, appErr.UnsupportedLanguage(name)
	}
	return id, nil
}

// Names lists registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ids))
	for name := range r.ids {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
