// Implements Repository over go-git's in-memory storage.

package git

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// MemRepo keeps objects, the index and HEAD in memory while reading file
// content from the working tree on disk. Object hashes are identical to the
// ones GoGitRepo produces for the same content.
//
// Any phase can be made to fail with Fail, which makes MemRepo suitable for
// exercising the commit transaction in isolation.
type MemRepo struct {
	dir string

	mu       sync.Mutex
	identity Identity
	store    *memory.Storage
	pending  *index.Index
	gen      uint64
	faults   map[Phase]error
	calls    []Phase
}

// NewMemRepo returns an empty repository with no HEAD whose working tree is
// dir.
func NewMemRepo(dir string) *MemRepo {
	return &MemRepo{dir: dir, store: memory.NewStorage(), faults: map[Phase]error{}}
}

// SetIdentity sets the identity returned by ConfiguredIdentity.
func (r *MemRepo) SetIdentity(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity = id
}

// Fail makes every later call of phase return err. A nil err clears the
// fault.
func (r *MemRepo) Fail(phase Phase, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.faults, phase)
		return
	}
	r.faults[phase] = err
}

// Calls returns the phases invoked so far, in order.
func (r *MemRepo) Calls() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.calls...)
}

// Objects returns the number of objects in the store.
func (r *MemRepo) Objects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.store.Objects)
}

// record logs the call and returns the injected fault for phase, if any.
// r.mu must be held.
func (r *MemRepo) record(phase Phase) error {
	r.calls = append(r.calls, phase)
	return r.faults[phase]
}

// Root returns the working tree path.
func (r *MemRepo) Root() string {
	return r.dir
}

func (r *MemRepo) Stage(_ context.Context, relPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(PhaseStage); err != nil {
		return err
	}

	wf, err := openWorkFile(r.dir, relPath)
	if err != nil {
		return err
	}
	defer func() { _ = wf.Close() }()

	if r.pending == nil {
		r.pending = r.cloneIndex()
	}
	if err := stageBlob(r.store, r.pending, wf); err != nil {
		return err
	}
	r.gen++
	return nil
}

// cloneIndex copies the flushed index so that staging does not leak into it
// before FlushIndex. r.mu must be held.
func (r *MemRepo) cloneIndex() *index.Index {
	cur, _ := r.store.Index()
	idx := &index.Index{Version: 2}
	for _, e := range cur.Entries {
		c := *e
		idx.Entries = append(idx.Entries, &c)
	}
	return idx
}

func (r *MemRepo) FlushIndex(_ context.Context) (FlushedIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(PhaseFlush); err != nil {
		return FlushedIndex{}, err
	}

	if r.pending != nil {
		sortIndex(r.pending)
		if err := r.store.SetIndex(r.pending); err != nil {
			return FlushedIndex{}, err
		}
		r.pending = nil
	}
	idx, err := r.store.Index()
	if err != nil {
		return FlushedIndex{}, err
	}
	return FlushedIndex{owner: r, gen: r.gen, entries: len(idx.Entries)}, nil
}

func (r *MemRepo) WriteTree(_ context.Context, fi FlushedIndex) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(PhaseTree); err != nil {
		return "", err
	}
	if err := fi.check(r, r.gen); err != nil {
		return "", err
	}

	idx, err := r.store.Index()
	if err != nil {
		return "", err
	}
	h, err := writeTree(r.store, idx)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

func (r *MemRepo) Head(_ context.Context) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(PhaseHead); err != nil {
		return "", false, err
	}
	return r.head()
}

// head reads HEAD without recording a call. r.mu must be held.
func (r *MemRepo) head() (string, bool, error) {
	ref, err := r.store.Reference(plumbing.HEAD)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return ref.Hash().String(), true, nil
}

func (r *MemRepo) Commit(_ context.Context, tree string, parents []string, sig Signature, msg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(PhaseCommit); err != nil {
		return "", err
	}

	h, err := writeCommit(r.store, tree, parents, sig, msg)
	if err != nil {
		return "", err
	}
	if err := r.store.SetReference(plumbing.NewHashReference(plumbing.HEAD, h)); err != nil {
		return "", err
	}
	return h.String(), nil
}

func (r *MemRepo) ConfiguredIdentity(_ context.Context) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity, r.identity.Complete()
}

// Log walks first parents from HEAD.
func (r *MemRepo) Log(_ context.Context, n int) ([]*Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n = capHistory(n)
	hash, ok, err := r.head()
	if err != nil || !ok {
		return nil, err
	}
	var commits []*Commit
	h := plumbing.NewHash(hash)
	for len(commits) < n {
		c, err := object.GetCommit(r.store, h)
		if err != nil {
			return nil, fmt.Errorf("failed to get commit %s: %w", h, err)
		}
		commits = append(commits, fromObjectCommit(c))
		if len(c.ParentHashes) == 0 {
			break
		}
		h = c.ParentHashes[0]
	}
	return commits, nil
}

func (r *MemRepo) FileAtCommit(_ context.Context, hash, filePath string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hash == "HEAD" {
		head, ok, err := r.head()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("failed to resolve HEAD: no commits")
		}
		hash = head
	}
	c, err := object.GetCommit(r.store, plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return readCommitFile(c, filePath)
}
