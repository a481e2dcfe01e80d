// Implements Repository using go-git (pure Go, no git binary dependency).

package git

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// GoGitRepo implements Repository using go-git plumbing directly: blobs, trees
// and commits are encoded by this package and HEAD is advanced explicitly.
//
// go-git has no clean/smudge filter support, so files matched by the large
// object policy are stored inline.
type GoGitRepo struct {
	dir      string
	identity Identity
	repo     *gogit.Repository

	mu      sync.Mutex
	pending *index.Index // staged entries not yet flushed
	gen     uint64
}

func openGoGitRepo(_ context.Context, dir string, identity Identity) (*GoGitRepo, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, errRepoNotFound(dir)
		}
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	return &GoGitRepo{dir: dir, identity: identity, repo: repo}, nil
}

func initGoGitRepo(_ context.Context, dir string, identity Identity) (*GoGitRepo, error) {
	if hasControlDir(dir) {
		return nil, errRepoExists(dir)
	}
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryAlreadyExists) {
			return nil, errRepoExists(dir)
		}
		return nil, fmt.Errorf("failed to initialize git repo: %w", err)
	}
	return &GoGitRepo{dir: dir, identity: identity, repo: repo}, nil
}

// Root returns the absolute path of the working tree.
func (r *GoGitRepo) Root() string {
	return r.dir
}

// Stage writes the file content as a blob object and records it in the
// pending index.
func (r *GoGitRepo) Stage(_ context.Context, relPath string) error {
	wf, err := openWorkFile(r.dir, relPath)
	if err != nil {
		return err
	}
	defer func() { _ = wf.Close() }()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		idx, err := r.repo.Storer.Index()
		if err != nil {
			return fmt.Errorf("failed to read index: %w", err)
		}
		r.pending = idx
	}
	if err := stageBlob(r.repo.Storer, r.pending, wf); err != nil {
		return err
	}
	r.gen++
	return nil
}

// FlushIndex writes the pending index to .git/index.
func (r *GoGitRepo) FlushIndex(_ context.Context) (FlushedIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.pending
	if idx == nil {
		var err error
		if idx, err = r.repo.Storer.Index(); err != nil {
			return FlushedIndex{}, fmt.Errorf("failed to read index: %w", err)
		}
	} else {
		sortIndex(idx)
		if err := r.repo.Storer.SetIndex(idx); err != nil {
			return FlushedIndex{}, err
		}
		r.pending = nil
	}
	return FlushedIndex{owner: r, gen: r.gen, entries: len(idx.Entries)}, nil
}

// WriteTree reads the index back from disk and encodes it as nested tree
// objects.
func (r *GoGitRepo) WriteTree(_ context.Context, fi FlushedIndex) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := fi.check(r, r.gen); err != nil {
		return "", err
	}
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return "", fmt.Errorf("failed to read index: %w", err)
	}
	h, err := writeTree(r.repo.Storer, idx)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// Head returns the commit HEAD resolves to.
func (r *GoGitRepo) Head(_ context.Context) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return ref.Hash().String(), true, nil
}

// Commit encodes the commit object and moves the branch HEAD points to.
func (r *GoGitRepo) Commit(_ context.Context, tree string, parents []string, sig Signature, msg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := writeCommit(r.repo.Storer, tree, parents, sig, msg)
	if err != nil {
		return "", err
	}

	target := plumbing.HEAD
	head, err := r.repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference {
		target = head.Target()
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(target, h)); err != nil {
		return "", fmt.Errorf("failed to update %s: %w", target, err)
	}
	return h.String(), nil
}

// ConfiguredIdentity returns the manager identity, or user.name/user.email
// from the repository's local config.
func (r *GoGitRepo) ConfiguredIdentity(_ context.Context) (Identity, bool) {
	if r.identity.Complete() {
		return r.identity, true
	}
	cfg, err := r.repo.Config()
	if err != nil {
		return Identity{}, false
	}
	id := Identity{Name: cfg.User.Name, Email: cfg.User.Email}
	return id, id.Complete()
}

// Log returns commit history reachable from HEAD.
func (r *GoGitRepo) Log(_ context.Context, n int) ([]*Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n = capHistory(n)
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, fromObjectCommit(c))
	}
	return commits, nil
}

// FileAtCommit retrieves the content of a file at a specific commit.
func (r *GoGitRepo) FileAtCommit(_ context.Context, hash, filePath string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}

	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return readCommitFile(c, filePath)
}
