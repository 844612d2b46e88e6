// Package version resolves (source, version-constraint) pairs to commit
// identifiers. Resolution is batched in two phases: collect the unique
// pairs of the current frontier, then fetch each source once and resolve
// every constraint against its ref list.
package version

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind classifies a version constraint.
type Kind int

const (
	// KindNone means unconstrained: the highest stable tag, or the default
	// branch head when the source has no semver tags.
	KindNone Kind = iota

	// KindTag pins an exact tag.
	KindTag

	// KindRange selects the highest tag matching a semver range.
	KindRange

	// KindBranch follows a branch head (mutable between runs).
	KindBranch

	// KindCommit pins a full commit sha.
	KindCommit
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTag:
		return "tag"
	case KindRange:
		return "range"
	case KindBranch:
		return "branch"
	case KindCommit:
		return "commit"
	}
	return "unknown"
}

var (
	commitShaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)
	rangeChars       = regexp.MustCompile(`[\^~*><=| ]|\.x\b`)
)

// Constraint is a parsed version constraint. The zero value is
// unconstrained.
type Constraint struct {
	Raw  string
	Kind Kind

	rng *semver.Constraints // set for KindRange
	ver *semver.Version     // set for KindTag when the tag parses as semver
}

// Parse classifies a raw constraint string.
//
// Classification order: empty or "latest" is unconstrained; a 40-char hex
// string is a commit sha; an exact semver version (with or without a 'v'
// prefix) is a tag; anything containing range operators is a semver range;
// everything else is a branch name.
func Parse(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "latest" {
		return Constraint{Raw: raw, Kind: KindNone}, nil
	}
	if commitShaPattern.MatchString(raw) {
		return Constraint{Raw: raw, Kind: KindCommit}, nil
	}
	if v, err := semver.StrictNewVersion(strings.TrimPrefix(raw, "v")); err == nil {
		return Constraint{Raw: raw, Kind: KindTag, ver: v}, nil
	}
	if rangeChars.MatchString(raw) {
		rng, err := semver.NewConstraint(raw)
		if err != nil {
			return Constraint{}, fmt.Errorf("invalid semver range '%s': %w", raw, err)
		}
		return Constraint{Raw: raw, Kind: KindRange, rng: rng}, nil
	}
	return Constraint{Raw: raw, Kind: KindBranch}, nil
}

// IsConcrete reports whether the constraint pins a single version: an
// exact tag or a commit sha.
func (c Constraint) IsConcrete() bool {
	return c.Kind == KindTag || c.Kind == KindCommit
}

// Version returns the parsed semver version for exact-tag constraints,
// or nil.
func (c Constraint) Version() *semver.Version { return c.ver }

// Matches reports whether a semver version satisfies the constraint.
// Non-range constraints match everything.
func (c Constraint) Matches(v *semver.Version) bool {
	if c.Kind != KindRange || v == nil {
		return true
	}
	return c.rng.Check(v)
}

// AcceptsPin reports whether a previously resolved (label, commit) pair is
// still a valid resolution for the constraint without consulting the
// remote. Branches never accept a pin: they track a mutable ref and must
// re-resolve every run.
func (c Constraint) AcceptsPin(label, commit string) bool {
	switch c.Kind {
	case KindNone:
		return true
	case KindCommit:
		return commit == c.Raw
	case KindTag:
		return strings.TrimPrefix(label, "v") == strings.TrimPrefix(c.Raw, "v")
	case KindRange:
		v, err := semver.StrictNewVersion(strings.TrimPrefix(label, "v"))
		if err != nil {
			return false
		}
		return c.rng.Check(v)
	}
	return false
}
