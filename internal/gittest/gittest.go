// Package gittest builds throwaway git repositories for tests. Fixtures are
// real repositories driven through the git CLI so mirror clones, ref
// listing, and worktree checkouts behave exactly as in production.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// Repo is a local fixture repository.
type Repo struct {
	Dir string
}

// Init creates an empty repository under a test temp dir. The default
// branch is named main regardless of the host git configuration.
func Init(t *testing.T) *Repo {
	t.Helper()
	r := &Repo{Dir: t.TempDir()}
	r.git(t, "init", "--initial-branch=main", ".")
	r.git(t, "config", "user.email", "test@example.com")
	r.git(t, "config", "user.name", "test")
	r.git(t, "config", "commit.gpgsign", "false")
	r.git(t, "config", "tag.gpgsign", "false")
	return r
}

// WriteFile writes a file relative to the repo root, creating parent
// directories as needed.
func (r *Repo) WriteFile(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(r.Dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// Commit stages everything and commits, returning the commit sha.
func (r *Repo) Commit(t *testing.T, msg string) string {
	t.Helper()
	r.git(t, "add", "-A")
	r.git(t, "commit", "--allow-empty", "-m", msg)
	return r.Head(t)
}

// Tag creates a lightweight tag at HEAD.
func (r *Repo) Tag(t *testing.T, name string) {
	t.Helper()
	r.git(t, "tag", name)
}

// AnnotatedTag creates an annotated tag at HEAD.
func (r *Repo) AnnotatedTag(t *testing.T, name string) {
	t.Helper()
	r.git(t, "tag", "-a", "-m", name, name)
}

// Branch creates a branch at HEAD and checks it out.
func (r *Repo) Branch(t *testing.T, name string) {
	t.Helper()
	r.git(t, "checkout", "-b", name)
}

// Checkout switches to an existing ref.
func (r *Repo) Checkout(t *testing.T, ref string) {
	t.Helper()
	r.git(t, "checkout", ref)
}

// Head returns the current HEAD commit sha.
func (r *Repo) Head(t *testing.T) string {
	t.Helper()
	return r.git(t, "rev-parse", "HEAD")
}

func (r *Repo) git(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", r.Dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}
