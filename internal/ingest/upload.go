package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/unheard/unheard/internal/contextfile"
	errs "github.com/unheard/unheard/internal/errors"
	"github.com/unheard/unheard/internal/storage/git"
)

// UploadResult is the outcome of an upload.
type UploadResult struct {
	ID     string
	Record *contextfile.Record
	Err    error
}

// Upload parses src, copies it into the project's context directory and
// commits it, reporting progress to obs.
//
// Unlike the other ingestion paths a failed commit fails the upload, and
// OnComplete is only sent after a successful commit. The copied file stays
// on disk either way.
func (in *Ingester) Upload(ctx context.Context, root, src string, obs Observer) (*contextfile.Record, error) {
	res := <-in.UploadAsync(ctx, root, src, obs)
	return res.Record, res.Err
}

// UploadAsync runs Upload on its own goroutine. The returned channel receives
// exactly one result.
func (in *Ingester) UploadAsync(ctx context.Context, root, src string, obs Observer) <-chan UploadResult {
	if obs == nil {
		obs = NullObserver{}
	}
	id := uuid.NewString()
	out := make(chan UploadResult, 1)
	go func() {
		ctx := context.WithoutCancel(ctx)
		slog.InfoContext(ctx, "ingest: uploading context file", "upload", id, "src", src, "root", root)
		rec, err := in.upload(ctx, root, src, obs)
		if err != nil {
			slog.ErrorContext(ctx, "ingest: upload failed", "upload", id, "err", err)
			obs.OnError(err.Error())
		} else {
			slog.InfoContext(ctx, "ingest: upload complete", "upload", id, "path", rec.RelativePath, "large", rec.IsLarge)
			obs.OnComplete(rec)
		}
		out <- UploadResult{ID: id, Record: rec, Err: err}
	}()
	return out
}

func (in *Ingester) upload(ctx context.Context, root, src string, obs Observer) (*contextfile.Record, error) {
	obs.OnParsing(10)
	rec, err := in.parsers.Parse(ctx, src)
	if err != nil {
		return nil, err
	}
	obs.OnParsing(50)

	contextDir := filepath.Join(root, contextfile.Dir)
	if fi, err := os.Stat(contextDir); err != nil || !fi.IsDir() {
		return nil, errs.Newf(errs.ErrNotFound, "Project context directory does not exist: %s", contextDir).WithDetail("path", contextDir)
	}
	dest := filepath.Join(contextDir, rec.StoredName)
	if _, err := os.Lstat(dest); err == nil {
		return nil, errDestinationExists(rec.StoredName)
	}

	obs.OnCopying(60)
	if err := copyExclusive(src, dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, errDestinationExists(rec.StoredName)
		}
		return nil, errs.IOError("Failed to copy file to project", err)
	}
	slog.DebugContext(ctx, "ingest: copied", "dest", dest)
	obs.OnCopying(80)

	obs.OnCommitting(90)
	repo, err := in.repos.Open(ctx, root)
	if err != nil {
		return nil, err
	}
	// The upload extends existing history; it never creates the first commit.
	if _, ok, err := repo.Head(ctx); err != nil || !ok {
		if err == nil {
			err = errors.New("no initial commit")
		}
		return nil, errs.New(errs.ErrCommitFailed, "Failed to get HEAD commit").WithDetail("phase", string(git.PhaseHead)).Wrap(err)
	}
	msg := fmt.Sprintf("Add context file: %s\n\nFile type: %s\nSize: %d bytes", rec.OriginalName, rec.FileType, rec.Size)
	hash, err := git.CommitPaths(ctx, repo, []string{rec.RelativePath}, msg)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "ingest: created commit for context file", "file", rec.OriginalName, "hash", hash)
	return rec, nil
}

func errDestinationExists(name string) error {
	return errs.Newf(errs.ErrDestinationConflict, "File %s already exists in project context", name).WithDetail("file", name)
}

// copyExclusive copies src to a new file at dst. It fails with fs.ErrExist
// if dst exists.
func copyExclusive(src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // G304: user selected upload
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G302: project content is shared
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
