package recording

import (
	"fmt"

	"github.com/gobwas/glob"
)

// EntityFilter matches entity paths against glob patterns.
// Path segments are separated by '/', so "*" stays within one segment and
// "**" spans several.
type EntityFilter struct {
	globs []glob.Glob
}

// NewEntityFilter compiles the given patterns.
// Unlike an allow-list, an empty filter matches nothing.
func NewEntityFilter(patterns []string) (*EntityFilter, error) {
	filter := &EntityFilter{
		globs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid entity pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Match returns true if the entity path matches any configured pattern
func (f *EntityFilter) Match(entityPath string) bool {
	if f == nil {
		return false
	}
	for _, g := range f.globs {
		if g.Match(entityPath) {
			return true
		}
	}
	return false
}
