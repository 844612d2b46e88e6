// Package errdefs defines the error taxonomy for the resolution and
// install pipeline. Every error names the source, constraint, or node it
// belongs to so failures are attributable in aggregate reports.
package errdefs

import (
	"fmt"
	"strings"
)

// SourceFetchError reports a network or auth failure while fetching a
// source's mirror. It aborts resolution for all dependents of that source
// but not for unrelated sources.
type SourceFetchError struct {
	Source string
	Remote string
	Err    error
	Hint   string
}

func (e *SourceFetchError) Error() string {
	msg := fmt.Sprintf("source '%s': fetch failed: %s", e.Source, e.Err)
	if e.Hint != "" {
		msg += " — " + e.Hint
	}
	return msg
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// VersionResolutionError reports an unresolvable version constraint.
// Fatal for the subtree rooted at the requesting dependency only.
type VersionResolutionError struct {
	Source     string
	Constraint string
	Err        error
}

func (e *VersionResolutionError) Error() string {
	return fmt.Sprintf("source '%s': cannot resolve version '%s': %s", e.Source, e.Constraint, e.Err)
}

func (e *VersionResolutionError) Unwrap() error { return e.Err }

// Requester identifies one party that asked for a particular version of a
// resource, used when reporting conflicts.
type Requester struct {
	Name       string // manifest entry or parent node that made the request
	Constraint string // raw constraint text, "" for unconstrained
}

// ConflictError reports irreconcilable version requirements for a single
// (source, path) identity. Fatal for the whole run.
type ConflictError struct {
	Source     string
	Path       string
	Requesters []Requester
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Requesters))
	for _, r := range e.Requesters {
		c := r.Constraint
		if c == "" {
			c = "(unconstrained)"
		}
		parts = append(parts, fmt.Sprintf("%s wants %s", r.Name, c))
	}
	return fmt.Sprintf("version conflict on %s:%s: %s", e.Source, e.Path, strings.Join(parts, ", "))
}

// CycleError reports a dependency cycle. Fatal for the whole run; Path
// holds the full cycle, first and last elements equal.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " → ")
}

// DuplicatePathError reports two nodes expanding to the same install
// destination. Fatal for the whole run.
type DuplicatePathError struct {
	Destination string
	Nodes       []string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("duplicate install destination '%s' produced by: %s", e.Destination, strings.Join(e.Nodes, ", "))
}

// ChecksumMismatchError reports content that hashed differently than the
// recorded checksum. Fatal for the affected node only.
type ChecksumMismatchError struct {
	Node     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s: checksum mismatch: expected %s, got %s", e.Node, e.Expected, e.Actual)
}

// InstallIOError reports a filesystem failure while materializing a
// worktree or writing a destination. Fatal for the affected node only.
type InstallIOError struct {
	Node string
	Op   string
	Err  error
}

func (e *InstallIOError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Node, e.Op, e.Err)
}

func (e *InstallIOError) Unwrap() error { return e.Err }

// PathSecurityError reports a destination that escapes the project root.
// Fatal for the affected node only.
type PathSecurityError struct {
	Node string
	Path string
	Err  error
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("%s: unsafe path '%s': %s", e.Node, e.Path, e.Err)
}

func (e *PathSecurityError) Unwrap() error { return e.Err }
