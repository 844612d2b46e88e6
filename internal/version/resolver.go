package version

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/agentdep/internal/errdefs"
	"github.com/bianoble/agentdep/internal/gitrepo"
	"github.com/bianoble/agentdep/internal/manifest"
)

// Key identifies one (source, constraint) pair in the resolved map.
type Key struct {
	Source     string
	Constraint string
}

// Resolution is a resolved pair: the chosen commit plus the human-readable
// version label recorded in the lockfile (tag name, branch name, or sha).
type Resolution struct {
	Commit string
	Label  string
}

// Request asks for one (source, constraint) pair to be resolved.
type Request struct {
	Source     manifest.Source
	Constraint Constraint
}

// Resolver maps (source, constraint) pairs to commits. A pair is resolved
// at most once per Resolver lifetime; all callers observe the same result.
type Resolver struct {
	fetcher           *gitrepo.Fetcher
	includePrerelease bool
	log               *zap.Logger

	mu       sync.Mutex
	resolved map[Key]Resolution
}

// NewResolver creates a Resolver over the given fetcher. When
// includePrerelease is false, pre-release tags are excluded from
// unconstrained and range matching.
func NewResolver(fetcher *gitrepo.Fetcher, includePrerelease bool, log *zap.Logger) *Resolver {
	return &Resolver{
		fetcher:           fetcher,
		includePrerelease: includePrerelease,
		log:               log,
		resolved:          make(map[Key]Resolution),
	}
}

// ResolveBatch resolves every request, fetching each distinct source at
// most once. Sources are fetched in parallel; constraint evaluation is
// cheap and runs inline. Already-resolved pairs are served from the map.
//
// The returned error is the first failure; per-pair failures are typed
// (*errdefs.VersionResolutionError or *errdefs.SourceFetchError) so the
// caller can fail only the affected subtree.
func (r *Resolver) ResolveBatch(ctx context.Context, reqs []Request) (map[Key]error, error) {
	// Collection phase: dedupe pairs and group by source.
	bySource := make(map[string][]Request)
	seen := make(map[Key]bool)
	for _, req := range reqs {
		k := Key{Source: req.Source.Name, Constraint: req.Constraint.Raw}
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, done := r.lookupKey(k); done {
			continue
		}
		bySource[req.Source.Name] = append(bySource[req.Source.Name], req)
	}

	// Resolution phase: one fetch per source, parallel across sources.
	var (
		failMu sync.Mutex
		failed = make(map[Key]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, srcReqs := range bySource {
		g.Go(func() error {
			refs, err := r.fetcher.EnsureFetched(gctx, srcReqs[0].Source)
			if err != nil {
				failMu.Lock()
				for _, req := range srcReqs {
					failed[Key{req.Source.Name, req.Constraint.Raw}] = err
				}
				failMu.Unlock()
				return nil
			}
			for _, req := range srcReqs {
				res, resErr := r.resolveOne(gctx, req, refs)
				k := Key{req.Source.Name, req.Constraint.Raw}
				if resErr != nil {
					failMu.Lock()
					failed[k] = resErr
					failMu.Unlock()
					continue
				}
				r.store(k, res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return failed, nil
}

// Seed records a resolution obtained outside ResolveBatch, typically from
// the previous run's lockfile. A seeded pair is never re-resolved, so its
// source needs no fetch unless another pair demands one.
func (r *Resolver) Seed(src manifest.Source, c Constraint, res Resolution) {
	r.store(Key{Source: src.Name, Constraint: c.Raw}, res)
}

// Lookup returns the resolution for a pair resolved by an earlier
// ResolveBatch call.
func (r *Resolver) Lookup(source manifest.Source, c Constraint) (Resolution, bool) {
	return r.lookupKey(Key{Source: source.Name, Constraint: c.Raw})
}

func (r *Resolver) lookupKey(k Key) (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resolved[k]
	return res, ok
}

func (r *Resolver) store(k Key, res Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved[k] = res
	r.log.Debug("resolved version",
		zap.String("source", k.Source),
		zap.String("constraint", k.Constraint),
		zap.String("commit", res.Commit),
		zap.String("label", res.Label))
}

func (r *Resolver) resolveOne(ctx context.Context, req Request, refs gitrepo.RefList) (Resolution, error) {
	src, c := req.Source, req.Constraint

	fail := func(err error) (Resolution, error) {
		return Resolution{}, &errdefs.VersionResolutionError{
			Source:     src.Name,
			Constraint: c.Raw,
			Err:        err,
		}
	}

	switch c.Kind {
	case KindTag:
		if commit, ok := refs.Tags[c.Raw]; ok {
			return Resolution{Commit: commit, Label: c.Raw}, nil
		}
		// Tolerate a missing or extra 'v' prefix.
		for _, alt := range []string{"v" + c.Raw, trimV(c.Raw)} {
			if commit, ok := refs.Tags[alt]; ok {
				return Resolution{Commit: commit, Label: alt}, nil
			}
		}
		return fail(fmt.Errorf("tag not found"))

	case KindBranch:
		if commit, ok := refs.Branches[c.Raw]; ok {
			return Resolution{Commit: commit, Label: c.Raw}, nil
		}
		return fail(fmt.Errorf("branch not found"))

	case KindCommit:
		commit, err := r.fetcher.ResolveRef(ctx, src, c.Raw)
		if err != nil {
			return fail(fmt.Errorf("commit not found"))
		}
		return Resolution{Commit: commit, Label: commit[:12]}, nil

	case KindRange, KindNone:
		tag, ok := r.highestTag(refs, c)
		if ok {
			return Resolution{Commit: refs.Tags[tag], Label: tag}, nil
		}
		if c.Kind == KindNone {
			// No semver tags at all: fall back to the default branch head.
			if refs.Head == "" {
				return fail(fmt.Errorf("source has no tags and no default branch"))
			}
			return Resolution{Commit: refs.Head, Label: "HEAD"}, nil
		}
		return fail(fmt.Errorf("no tag matches range"))
	}

	return fail(fmt.Errorf("unknown constraint kind"))
}

// highestTag returns the highest semver tag matching the constraint,
// applying standard precedence. Pre-releases are skipped unless the
// resolver opts in or the range itself names a pre-release.
func (r *Resolver) highestTag(refs gitrepo.RefList, c Constraint) (string, bool) {
	type candidate struct {
		name string
		ver  *semver.Version
	}
	var candidates []candidate
	for name := range refs.Tags {
		v, err := semver.StrictNewVersion(trimV(name))
		if err != nil {
			continue
		}
		if v.Prerelease() != "" && !r.includePrerelease && c.Kind == KindNone {
			continue
		}
		if !c.Matches(v) {
			continue
		}
		candidates = append(candidates, candidate{name: name, ver: v})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ver.Equal(candidates[j].ver) {
			return candidates[i].name < candidates[j].name
		}
		return candidates[i].ver.GreaterThan(candidates[j].ver)
	})
	return candidates[0].name, true
}

func trimV(tag string) string {
	if len(tag) > 1 && tag[0] == 'v' {
		return tag[1:]
	}
	return tag
}
