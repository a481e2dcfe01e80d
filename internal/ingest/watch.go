package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unheard/unheard/internal/project"
)

// WatchDirs are the project subdirectories Watch observes.
var WatchDirs = []string{project.ContextDir, project.DecisionsDir, project.ExperimentsDir, AttioDir}

// Watch commits files created or modified under WatchDirs by other programs.
// Changes are batched until no event arrived for debounce, then committed in
// one transaction. Files identical to their HEAD version are skipped.
// Deletions are not recorded.
//
// Commit failures are logged and swallowed. Watch returns when ctx is done.
func (in *Ingester) Watch(ctx context.Context, root string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	repo, err := in.repos.Open(ctx, root)
	if err != nil {
		return err
	}
	root = repo.Root()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	// The root is watched so that missing WatchDirs are picked up when created.
	if err := w.Add(root); err != nil {
		return err
	}
	for _, d := range WatchDirs {
		if _, err := addTree(w, filepath.Join(root, d)); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, "ingest: watching", "root", root, "debounce", debounce)

	pending := map[string]struct{}{}
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if len(pending) > 0 {
				in.sync(context.WithoutCancel(ctx), root, pending)
			}
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			rel, ok := watchedPath(root, event.Name)
			if !ok {
				continue
			}
			fi, err := os.Lstat(event.Name)
			if err != nil {
				continue
			}
			if fi.IsDir() {
				// Files may have landed before the watch was added.
				files, err := addTree(w, event.Name)
				if err != nil {
					slog.WarnContext(ctx, "ingest: failed to watch directory", "path", rel, "err", err)
				}
				for _, f := range files {
					if r, ok := watchedPath(root, f); ok {
						pending[r] = struct{}{}
					}
				}
				if len(files) > 0 {
					timer.Reset(debounce)
				}
				continue
			}
			if !fi.Mode().IsRegular() {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(debounce)
		case <-timer.C:
			in.sync(ctx, root, pending)
			clear(pending)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "ingest: watch error", "err", err)
		}
	}
}

// sync commits the pending files that differ from HEAD.
func (in *Ingester) sync(ctx context.Context, root string, pending map[string]struct{}) {
	repo, err := in.repos.Open(ctx, root)
	if err != nil {
		logUncommitted(ctx, "Synced files", root, err)
		return
	}
	var paths []string
	for rel := range pending {
		cur, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			// Removed before the debounce fired.
			continue
		}
		if old, err := repo.FileAtCommit(ctx, "HEAD", rel); err == nil && bytes.Equal(old, cur) {
			continue
		}
		paths = append(paths, rel)
	}
	if len(paths) == 0 {
		return
	}
	slices.Sort(paths)
	if _, err := in.commit(ctx, root, paths, fmt.Sprintf("[unheard] Sync %d files", len(paths))); err != nil {
		logUncommitted(ctx, "Synced files", root, err)
	}
}

// watchedPath returns the slash separated path of name relative to root. It
// rejects paths outside WatchDirs and dot-prefixed elements.
func watchedPath(root, name string) (string, bool) {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	parts := strings.Split(rel, "/")
	if !slices.Contains(WatchDirs, parts[0]) {
		return "", false
	}
	for _, p := range parts {
		if p == ".." || strings.HasPrefix(p, ".") {
			return "", false
		}
	}
	return rel, true
}

// addTree watches dir and its non-hidden subdirectories and returns the
// regular files found in them. A missing dir is ignored.
func addTree(w *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		}
		return w.Add(path)
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return files, err
}
