// Package ingest writes user artifacts into a project and records them in its
// history.
//
// Every operation writes its files first and then runs exactly one commit
// transaction. For records, decisions and experiment configs a failed commit
// is logged and the saved paths are still returned. Uploads fail instead.
package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/unheard/unheard/internal/contextfile"
	errs "github.com/unheard/unheard/internal/errors"
	"github.com/unheard/unheard/internal/storage/git"
)

// Ingester writes artifacts into projects opened through an Opener.
type Ingester struct {
	repos   git.Opener
	parsers *contextfile.Registry
}

// New returns an Ingester. A nil parsers uses the default registry.
func New(repos git.Opener, parsers *contextfile.Registry) *Ingester {
	if parsers == nil {
		parsers = contextfile.NewRegistry(0)
	}
	return &Ingester{repos: repos, parsers: parsers}
}

// commit runs the commit transaction for files already on disk.
func (in *Ingester) commit(ctx context.Context, root string, paths []string, msg string) (string, error) {
	hash, err := git.CommitIn(ctx, in.repos, root, paths, msg)
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "ingest: committed", "root", root, "hash", hash, "files", len(paths))
	return hash, nil
}

// logUncommitted reports a swallowed commit failure.
func logUncommitted(ctx context.Context, what, root string, err error) {
	slog.ErrorContext(ctx, "ingest: git commit failed", "root", root, "err", err)
	slog.WarnContext(ctx, "ingest: "+what+" saved but not committed", "root", root)
}

// writeArtifact creates the parent directory and writes content at
// root/rel.
func writeArtifact(ctx context.Context, root, rel string, content []byte) error {
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil { //nolint:gosec // G301: project content is shared
		return errs.IOError("failed to create directory", err).WithDetail("path", rel)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil { //nolint:gosec // G306: project content is shared
		return errs.IOError("failed to write file "+rel, err).WithDetail("path", rel)
	}
	slog.DebugContext(ctx, "ingest: wrote", "path", rel, "bytes", len(content))
	return nil
}

// checkName rejects empty names and names that are not a single path
// element.
func checkName(name string) *errs.Error {
	if strings.TrimSpace(name) == "" {
		return errs.Invalid("Filename cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return errs.Invalid("Filename %q must be a plain file name", name)
	}
	return nil
}
