// Commit transaction: stage, flush, tree, parent, commit.

package git

import (
	"context"
	"log/slog"
	"strings"

	errs "github.com/unheard/unheard/internal/errors"
)

// CommitPaths stages every path, snapshots the whole index into a tree and
// appends a commit whose parent is the current HEAD, if any.
//
// The paths must already exist on disk relative to repo.Root(). Errors are
// *errs.Error with code INVALID_ARGUMENT, STAGE_FAILED, TREE_FAILED or
// COMMIT_FAILED. Nothing is retried and staged entries are not rolled back;
// the next transaction re-stages what it needs.
//
// Whether a failure is fatal is decided by the caller: ingestion keeps the
// written files and logs it, bootstrap and upload return it.
func CommitPaths(ctx context.Context, repo Repository, paths []string, msg string) (string, error) {
	if len(paths) == 0 {
		return "", errs.Invalid("No files provided to commit")
	}
	if strings.TrimSpace(msg) == "" {
		return "", errs.Invalid("Commit message cannot be empty")
	}

	for _, p := range paths {
		if err := repo.Stage(ctx, p); err != nil {
			return "", phaseError(PhaseStage, p, err)
		}
	}
	flushed, err := repo.FlushIndex(ctx)
	if err != nil {
		return "", phaseError(PhaseFlush, "", err)
	}
	tree, err := repo.WriteTree(ctx, flushed)
	if err != nil {
		return "", phaseError(PhaseTree, "", err)
	}

	var parents []string
	head, ok, err := repo.Head(ctx)
	if err != nil {
		return "", phaseError(PhaseHead, "", err)
	}
	if ok {
		parents = []string{head}
	}

	sig := signatureNow(ctx, repo)
	hash, err := repo.Commit(ctx, tree, parents, sig, msg)
	if err != nil {
		return "", phaseError(PhaseCommit, "", err)
	}
	slog.DebugContext(ctx, "git: committed", "root", repo.Root(), "hash", hash, "tree", tree, "files", len(paths), "entries", flushed.Entries(), "author", sig.Identity.String())
	return hash, nil
}

// CommitIn opens the repository at root and runs CommitPaths.
func CommitIn(ctx context.Context, o Opener, root string, paths []string, msg string) (string, error) {
	if len(paths) == 0 {
		return "", errs.Invalid("No files provided to commit")
	}
	if strings.TrimSpace(msg) == "" {
		return "", errs.Invalid("Commit message cannot be empty")
	}
	repo, err := o.Open(ctx, root)
	if err != nil {
		return "", err
	}
	return CommitPaths(ctx, repo, paths, msg)
}
