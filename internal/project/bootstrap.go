// Package project creates and inspects project directories.
package project

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/unheard/unheard/internal/contextfile"
	errs "github.com/unheard/unheard/internal/errors"
	"github.com/unheard/unheard/internal/storage/git"
)

// Project layout.
const (
	ContextDir     = contextfile.Dir
	DecisionsDir   = "decisions"
	ExperimentsDir = "experiments"
	AttributesFile = ".gitattributes"
	ReadmeFile     = "README.md"
	keepFile       = ".gitkeep"

	// InitialCommitMessage is the message of the first commit of every project.
	InitialCommitMessage = "Initial commit: Set up project structure"
)

// SkeletonDirs are created by Bootstrap, in order.
var SkeletonDirs = []string{ContextDir, DecisionsDir, ExperimentsDir}

// Attributes is the large object policy. Documents and spreadsheets under
// context/ go through git-lfs; CSV stays inline.
const Attributes = `# Git LFS tracking for large files
context/**/*.pdf filter=lfs diff=lfs merge=lfs -text
context/**/*.xlsx filter=lfs diff=lfs merge=lfs -text
`

const readme = `# Unheard Project

This directory contains context files, decisions, and experiment results for your project.

## Directory Structure

- ` + "`context/`" + ` - Uploaded context files (CSV, PDF, Excel)
- ` + "`decisions/`" + ` - Decision records and analysis
- ` + "`experiments/`" + ` - Experiment configurations and results

## Git LFS

This project uses Git LFS for large files (PDF and Excel files in context/).
If you don't have Git LFS installed, you can continue without it, but large files
may impact repository performance.

Install Git LFS: https://git-lfs.github.com/
`

// Initializer creates a repository with no HEAD.
type Initializer interface {
	Init(ctx context.Context, root string) (git.Repository, error)
}

// Result describes a bootstrapped project.
type Result struct {
	Success          bool   `json:"success"`
	Path             string `json:"path"`
	LargeFileSupport bool   `json:"lfsAvailable"`
	CommitHash       string `json:"commitHash"`
}

// Bootstrap turns the empty directory at path into a project: repository,
// skeleton directories, large object policy, README and a parentless first
// commit.
//
// Unlike ingestion, a failed first commit fails the bootstrap.
func Bootstrap(ctx context.Context, repos Initializer, path string) (*Result, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.Invalid("invalid path %q: %v", path, err)
	}
	if err := checkEligible(dir); err != nil {
		slog.WarnContext(ctx, "project: not eligible", "path", dir, "err", err)
		return nil, err
	}

	repo, err := repos.Init(ctx, dir)
	if err != nil {
		return nil, err
	}

	created := make([]string, 0, len(SkeletonDirs)+2)
	for _, d := range SkeletonDirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil { //nolint:gosec // G301: project content is shared
			return nil, errs.IOError("failed to create directory "+d, err)
		}
		// Empty directories cannot be tracked.
		keep := d + "/" + keepFile
		if err := writeFile(dir, keep, ""); err != nil {
			return nil, err
		}
		created = append(created, keep)
	}
	if err := writeFile(dir, AttributesFile, Attributes); err != nil {
		return nil, err
	}
	if err := writeFile(dir, ReadmeFile, readme); err != nil {
		return nil, err
	}
	created = append(created, AttributesFile, ReadmeFile)

	lfs := DetectLargeFileSupport(ctx)
	if !lfs {
		slog.WarnContext(ctx, "project: git-lfs not detected, large files will be stored inline")
	}

	hash, err := git.CommitPaths(ctx, repo, created, InitialCommitMessage)
	if err != nil {
		slog.ErrorContext(ctx, "project: initial commit failed", "path", dir, "err", err)
		return nil, err
	}
	slog.InfoContext(ctx, "project: initialized", "path", dir, "commit", hash, "lfs", lfs)
	return &Result{Success: true, Path: dir, LargeFileSupport: lfs, CommitHash: hash}, nil
}

// checkEligible verifies the bootstrap preconditions in order.
func checkEligible(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.ErrNotFound, "Directory does not exist").WithDetail("path", dir)
		}
		return errs.IOError("failed to stat directory", err)
	}
	if !fi.IsDir() {
		return errs.New(errs.ErrAlreadyExists, "Path is not a directory").WithDetail("path", dir)
	}
	if _, err := os.Lstat(filepath.Join(dir, ".git")); err == nil {
		return errs.New(errs.ErrAlreadyExists, "Directory already contains a Git repository (.git exists)").WithDetail("path", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errs.IOError("failed to read directory", err)
	}
	visible := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			visible++
		}
	}
	if visible > 0 {
		return errs.Newf(errs.ErrAlreadyExists, "Directory must be empty to initialize a new project. Found %d file(s)/folder(s).", visible).
			WithDetail("path", dir).
			WithDetail("count", visible)
	}
	return nil
}

func writeFile(root, rel, content string) error {
	if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), []byte(content), 0o644); err != nil { //nolint:gosec // G306: project content is shared
		return errs.IOError("failed to write "+rel, err)
	}
	slog.Debug("project: wrote", "path", rel)
	return nil
}

// DetectLargeFileSupport reports whether `git-lfs version` succeeds. It is
// informational only.
func DetectLargeFileSupport(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "git-lfs", "version").Output()
	if err != nil {
		slog.DebugContext(ctx, "project: git-lfs not found", "err", err)
		return false
	}
	slog.DebugContext(ctx, "project: git-lfs detected", "version", strings.TrimSpace(string(out)))
	return true
}
