package lock

import "time"

// Lockfile represents the agentdep.lock file. It is created fresh on each
// successful install run and written only after the full batch succeeds.
type Lockfile struct {
	Version     int       `yaml:"version"`
	GeneratedAt time.Time `yaml:"generated_at"`
	Entries     []Entry   `yaml:"entries"`
}

// Entry records the fully resolved, immutable state of one installed
// resource.
type Entry struct {
	Name        string    `yaml:"name"`
	Type        string    `yaml:"type"`
	Source      string    `yaml:"source,omitempty"` // empty for local dependencies
	Path        string    `yaml:"path"`
	Version     string    `yaml:"version,omitempty"` // resolved label: tag, branch, or short sha
	Commit      string    `yaml:"commit,omitempty"`
	SHA256      string    `yaml:"sha256"`
	InstalledAt time.Time `yaml:"installed_at"`
	Deps        []string  `yaml:"deps,omitempty"` // names of transitive references
}
