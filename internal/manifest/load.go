package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates an agentdep.yaml manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if errs := Validate(&m); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &m, nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Manifest for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(m *Manifest) []string {
	var errs []string

	if m.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", m.Version))
	}

	sourceNames := make(map[string]bool)
	for i, src := range m.Sources {
		prefix := fmt.Sprintf("source[%d]", i)
		if src.Name != "" {
			prefix = fmt.Sprintf("source '%s'", src.Name)
		}

		if src.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		} else if sourceNames[src.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate source name '%s'", prefix, src.Name))
		} else {
			sourceNames[src.Name] = true
		}

		if src.Remote == "" {
			errs = append(errs, fmt.Sprintf("%s: 'remote' is required — add 'remote: https://...' to the source definition", prefix))
		}
	}

	for i, dep := range m.Dependencies {
		prefix := fmt.Sprintf("dependency[%d]", i)
		if dep.Name != "" {
			prefix = fmt.Sprintf("dependency '%s'", dep.Name)
		}

		errs = append(errs, validateDependency(dep, prefix, sourceNames)...)
	}

	for i, td := range m.ToolDefinitions {
		prefix := fmt.Sprintf("tool_definition[%d]", i)
		if td.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		}
		if td.Destination == "" {
			errs = append(errs, fmt.Sprintf("%s: 'destination' is required", prefix))
		}
	}

	return errs
}

// validateDependency checks a single declaration. It is shared with the
// metadata parser so embedded declarations get the same diagnostics.
func validateDependency(dep Dependency, prefix string, sourceNames map[string]bool) []string {
	var errs []string

	switch dep.Type {
	case "agent", "command", "snippet":
		// valid
	case "":
		errs = append(errs, fmt.Sprintf("%s: 'type' is required — must be one of: agent, command, snippet", prefix))
	default:
		errs = append(errs, fmt.Sprintf("%s: unknown type '%s' — must be one of: agent, command, snippet", prefix, dep.Type))
	}

	switch {
	case dep.Source != "" && dep.Local != "":
		errs = append(errs, fmt.Sprintf("%s: 'source' and 'local' are mutually exclusive — use one or the other", prefix))
	case dep.Source == "" && dep.Local == "":
		errs = append(errs, fmt.Sprintf("%s: one of 'source' or 'local' is required", prefix))
	case dep.Source != "" && sourceNames != nil && !sourceNames[dep.Source]:
		errs = append(errs, fmt.Sprintf("%s: references undefined source '%s'", prefix, dep.Source))
	}

	if dep.Source != "" && dep.Path == "" {
		errs = append(errs, fmt.Sprintf("%s: 'path' is required for remote dependencies", prefix))
	}
	if dep.Local != "" && dep.Version != "" {
		errs = append(errs, fmt.Sprintf("%s: 'version' does not apply to local dependencies", prefix))
	}

	return errs
}
