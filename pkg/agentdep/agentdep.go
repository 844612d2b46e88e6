// Package agentdep provides the public Go library API for agentdep.
//
// agentdep is a git-native, lockfile-pinned dependency manager for
// declarative resource files (agents, commands, snippets). This package
// exposes constructors for embedding the resolution and install pipeline
// in other Go programs.
//
// # Basic Usage
//
//	client, err := agentdep.New(agentdep.Options{
//	    ProjectRoot:  "/path/to/project",
//	    ManifestPath: "agentdep.yaml",
//	    LockfilePath: "agentdep.lock",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.Install(ctx)
package agentdep

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bianoble/agentdep/internal/cachectx"
	"github.com/bianoble/agentdep/internal/lock"
	"github.com/bianoble/agentdep/internal/logging"
	"github.com/bianoble/agentdep/internal/manifest"
	"github.com/bianoble/agentdep/internal/pipeline"
)

// Result is the structured summary of an install run.
type Result = pipeline.Result

// Failure is one failed node in a Result.
type Failure = pipeline.Failure

// Entry is one lockfile entry.
type Entry = lock.Entry

// Options configures a client.
type Options struct {
	// ProjectRoot is the directory files are installed into. Empty means
	// the manifest's directory.
	ProjectRoot string

	// ManifestPath locates agentdep.yaml. Empty means discovery upward
	// from the current directory.
	ManifestPath string

	// LockfilePath locates agentdep.lock. Empty means next to the
	// manifest.
	LockfilePath string

	// CacheDir overrides the shared cache root.
	CacheDir string

	// MaxParallel bounds concurrent installs; <= 0 means GOMAXPROCS.
	MaxParallel int

	// NoLock disables lockfile writing.
	NoLock bool

	// IncludePrerelease lets unconstrained resolution pick pre-release
	// tags.
	IncludePrerelease bool

	// LogLevel is one of "debug", "info", "none". Empty means "none".
	LogLevel string

	// Now stamps the lockfile; nil means time.Now.
	Now func() time.Time
}

// Client runs the pipeline for one project.
type Client struct {
	pipe *pipeline.Pipeline
	log  *zap.Logger
}

// New validates options, loads the manifest, and assembles a client.
func New(opts Options) (*Client, error) {
	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		discovered, err := manifest.Discover(".")
		if err != nil {
			return nil, err
		}
		manifestPath = discovered
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path: %w", err)
	}
	projectRoot := opts.ProjectRoot
	if projectRoot == "" {
		projectRoot = filepath.Dir(abs)
	}
	lockfilePath := opts.LockfilePath
	if lockfilePath == "" {
		lockfilePath = filepath.Join(filepath.Dir(abs), "agentdep.lock")
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = cachectx.DefaultDir()
	}

	level := opts.LogLevel
	if level == "" {
		level = logging.LevelNone
	}
	log, err := logging.New(level)
	if err != nil {
		return nil, fmt.Errorf("configuring logger: %w", err)
	}

	cctx, err := cachectx.New(cacheDir)
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(m, projectRoot, cctx, pipeline.Options{
		LockfilePath:      lockfilePath,
		NoLock:            opts.NoLock,
		MaxParallel:       opts.MaxParallel,
		IncludePrerelease: opts.IncludePrerelease,
		Now:               opts.Now,
	}, log)

	return &Client{pipe: pipe, log: log}, nil
}

// Install resolves the manifest's dependency graph and installs it.
func (c *Client) Install(ctx context.Context) (*Result, error) {
	return c.pipe.Run(ctx)
}
