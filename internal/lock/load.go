package lock

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates an agentdep.lock file.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing lockfile %s: %w", path, err)
	}

	if errs := Validate(&lf); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &lf, nil
}

// Save writes a lockfile atomically using a temp file and rename. Entries
// are sorted by name first so repeated runs produce byte-identical output.
func Save(path string, lf *Lockfile) error {
	sort.Slice(lf.Entries, func(i, j int) bool {
		if lf.Entries[i].Name == lf.Entries[j].Name {
			return lf.Entries[i].Path < lf.Entries[j].Path
		}
		return lf.Entries[i].Name < lf.Entries[j].Name
	})

	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp lockfile %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp lockfile to %s: %w", path, err)
	}

	return nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lockfile validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Lockfile for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(lf *Lockfile) []string {
	var errs []string

	if lf.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", lf.Version))
	}

	for i, e := range lf.Entries {
		prefix := fmt.Sprintf("entry[%d]", i)
		if e.Name != "" {
			prefix = fmt.Sprintf("entry '%s'", e.Name)
		}

		if e.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		}
		if e.Path == "" {
			errs = append(errs, fmt.Sprintf("%s: 'path' is required", prefix))
		}
		if e.SHA256 == "" {
			errs = append(errs, fmt.Sprintf("%s: 'sha256' is required", prefix))
		}
		if e.Source != "" && e.Commit == "" {
			errs = append(errs, fmt.Sprintf("%s: remote entries require 'commit'", prefix))
		}
	}

	return errs
}
