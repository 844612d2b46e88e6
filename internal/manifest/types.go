package manifest

// Manifest represents the agentdep.yaml manifest file.
type Manifest struct {
	Version         int              `yaml:"version"`
	Sources         []Source         `yaml:"sources"`
	Dependencies    []Dependency     `yaml:"dependencies"`
	ToolDefinitions []ToolDefinition `yaml:"tool_definitions,omitempty"`
}

// Source defines a remote git repository that resources are pulled from.
// Identity is the name; sources are immutable after load.
type Source struct {
	Name   string `yaml:"name"`
	Remote string `yaml:"remote"`
}

// Dependency declares a single resource to install. Declarations come from
// the manifest and from frontmatter embedded in already-fetched resources;
// embedded declarations inherit the parent's source and version when left
// empty.
type Dependency struct {
	// Type is the resource type: "agent", "command", or "snippet".
	Type string `yaml:"type"`

	// Name identifies the dependency in reports and the lockfile.
	Name string `yaml:"name"`

	// Source names a manifest source. Mutually exclusive with Local.
	Source string `yaml:"source,omitempty"`

	// Local is a project-relative path for local dependencies.
	Local string `yaml:"local,omitempty"`

	// Path is the repository-relative file path, literal or glob pattern.
	Path string `yaml:"path,omitempty"`

	// Version is the raw version constraint: an exact tag, a semver range,
	// a branch name, or a full commit sha. Empty means unconstrained.
	Version string `yaml:"version,omitempty"`

	// Tool selects the destination tool layout (e.g. "claude-code").
	Tool string `yaml:"tool,omitempty"`

	// Install controls whether the resource is written to the project.
	// Nil means true; embedded-only dependencies set it to false.
	Install *bool `yaml:"install,omitempty"`

	// As names the template binding the resource's content is exposed
	// under when a parent embeds it. Empty means no content embedding.
	As string `yaml:"as,omitempty"`
}

// ToolDefinition defines a custom tool path mapping or overrides a built-in.
type ToolDefinition struct {
	Name        string `yaml:"name"`
	Destination string `yaml:"destination"`
}

// IsLocal reports whether the dependency points at a local path.
func (d Dependency) IsLocal() bool { return d.Local != "" }

// ShouldInstall reports the effective install flag.
func (d Dependency) ShouldInstall() bool { return d.Install == nil || *d.Install }

// DisplayName returns the dependency name, falling back to its path.
func (d Dependency) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.IsLocal() {
		return d.Local
	}
	return d.Source + ":" + d.Path
}
