// Package metadata extracts dependency declarations and template bindings
// from resource file frontmatter. The rest of the pipeline treats the
// parser as a collaborator behind the Parser interface and never inspects
// resource text itself.
package metadata

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bianoble/agentdep/internal/manifest"
)

// Parsed holds what a resource file declares about itself.
type Parsed struct {
	// Dependencies are the embedded declarations, in file order.
	Dependencies []manifest.Dependency

	// Bindings are the template binding names the file's body may
	// reference, one per dependency declared with an 'as' name.
	Bindings []string

	// Body is the file content with the frontmatter fence stripped.
	Body []byte
}

// Parser turns raw resource bytes into embedded declarations and bindings.
type Parser interface {
	Parse(content []byte) (*Parsed, error)
}

// frontmatter is the YAML document between the fences.
type frontmatter struct {
	Dependencies []manifest.Dependency `yaml:"dependencies,omitempty"`
}

var fence = []byte("---\n")

// FrontmatterParser parses YAML frontmatter fenced by '---' lines at the
// top of a file. Files without a fence have no declarations.
type FrontmatterParser struct{}

// Parse implements Parser.
func (FrontmatterParser) Parse(content []byte) (*Parsed, error) {
	if !bytes.HasPrefix(content, fence) {
		return &Parsed{Body: content}, nil
	}

	rest := content[len(fence):]
	end := bytes.Index(rest, fence)
	if end < 0 {
		// An opening fence with no close is treated as content, not an
		// error: plain '---' separators are common in markdown bodies.
		return &Parsed{Body: content}, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}

	p := &Parsed{
		Dependencies: fm.Dependencies,
		Body:         rest[end+len(fence):],
	}
	for _, dep := range fm.Dependencies {
		if dep.As != "" {
			p.Bindings = append(p.Bindings, dep.As)
		}
	}
	return p, nil
}
