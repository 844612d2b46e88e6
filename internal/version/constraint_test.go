package version

import (
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		raw  string
		kind Kind
	}{
		{"", KindNone},
		{"latest", KindNone},
		{"  latest  ", KindNone},
		{strings.Repeat("a1", 20), KindCommit},
		{"1.2.3", KindTag},
		{"v1.2.3", KindTag},
		{"1.2.3-rc.1", KindTag},
		{"^1.0.0", KindRange},
		{"~2.1.0", KindRange},
		{">=1.0.0 <2.0.0", KindRange},
		{"1.x", KindRange},
		{"1.2.*", KindRange},
		{"main", KindBranch},
		{"feature/new-parser", KindBranch},
		{"release-2024", KindBranch},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			c, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind, "constraint %q", tt.raw)
		})
	}
}

func TestParseInvalidRange(t *testing.T) {
	_, err := Parse("^not.a.version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid semver range")
}

func TestIsConcrete(t *testing.T) {
	for raw, want := range map[string]bool{
		"1.0.0":                  true,
		strings.Repeat("ab", 20): true,
		"^1.0.0":                 false,
		"main":                   false,
		"":                       false,
		"latest":                 false,
	} {
		c, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, c.IsConcrete(), "constraint %q", raw)
	}
}

func TestMatches(t *testing.T) {
	c, err := Parse("^1.2.0")
	require.NoError(t, err)

	assert.True(t, c.Matches(semver.MustParse("1.2.0")))
	assert.True(t, c.Matches(semver.MustParse("1.9.9")))
	assert.False(t, c.Matches(semver.MustParse("2.0.0")))
	assert.False(t, c.Matches(semver.MustParse("1.1.0")))

	// Non-range constraints match everything.
	branch, err := Parse("main")
	require.NoError(t, err)
	assert.True(t, branch.Matches(semver.MustParse("0.0.1")))
}

func TestAcceptsPin(t *testing.T) {
	sha := strings.Repeat("ab", 20)
	tests := []struct {
		raw    string
		label  string
		commit string
		want   bool
	}{
		{"", "v1.0.0", sha, true},          // unconstrained accepts any pin
		{"v1.0.0", "v1.0.0", sha, true},    // exact tag
		{"1.0.0", "v1.0.0", sha, true},     // prefix-tolerant
		{"v1.0.0", "v1.1.0", sha, false},   // tag moved
		{"^1.0.0", "v1.5.0", sha, true},    // pin inside range
		{"^1.0.0", "v2.0.0", sha, false},   // pin outside range
		{"^1.0.0", "main", sha, false},     // non-semver label never satisfies a range
		{sha, "abcdef012345", sha, true},   // commit pin
		{sha, sha[:12], "deadbeef", false}, // different commit
		{"main", "main", sha, false},       // branches are moving targets
	}

	for _, tt := range tests {
		c, err := Parse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.AcceptsPin(tt.label, tt.commit),
			"constraint %q, pin %s@%s", tt.raw, tt.label, tt.commit)
	}
}

func TestVersionAccessor(t *testing.T) {
	c, err := Parse("v2.3.4")
	require.NoError(t, err)
	require.NotNil(t, c.Version())
	assert.Equal(t, "2.3.4", c.Version().String())

	b, err := Parse("main")
	require.NoError(t, err)
	assert.Nil(t, b.Version())
}
