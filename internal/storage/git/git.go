// Defines the Repository interface, Manager, and shared types for the
// project object store.

package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Repository is the object store capability set used by the commit
// transaction. A Repository is a single-writer resource: callers targeting the
// same project must serialize externally.
type Repository interface {
	// Root returns the absolute path of the working tree.
	Root() string
	// Stage reads the file at Root()/relPath and records its content hash in
	// the index, replacing any prior entry for that path. HEAD is untouched.
	Stage(ctx context.Context, relPath string) error
	// FlushIndex durably writes the staged index. The returned token is the
	// only way to obtain a tree.
	FlushIndex(ctx context.Context) (FlushedIndex, error)
	// WriteTree snapshots the full flushed index into a tree and returns its
	// hex identifier.
	WriteTree(ctx context.Context, idx FlushedIndex) (string, error)
	// Head returns the commit HEAD points to. ok is false before the first commit.
	Head(ctx context.Context) (hash string, ok bool, err error)
	// Commit appends a commit object and advances HEAD to it.
	Commit(ctx context.Context, tree string, parents []string, sig Signature, msg string) (string, error)
	// ConfiguredIdentity returns the identity configured for this repository, if any.
	ConfiguredIdentity(ctx context.Context) (Identity, bool)
	// Log returns up to n commits reachable from HEAD, newest first.
	// n is capped at 1000. If n <= 0, defaults to 1000.
	Log(ctx context.Context, n int) ([]*Commit, error)
	// FileAtCommit retrieves the content of a file at a specific commit.
	FileAtCommit(ctx context.Context, hash, filePath string) ([]byte, error)
}

// Opener opens an existing repository rooted at a project directory.
type Opener interface {
	Open(ctx context.Context, root string) (Repository, error)
}

// FlushedIndex proves that the index was written after the last Stage call.
//
// It can only be obtained from Repository.FlushIndex and is only accepted by
// the repository that issued it. A token becomes stale as soon as another
// path is staged.
type FlushedIndex struct {
	owner   Repository
	gen     uint64
	entries int
}

// Entries returns the number of index entries at flush time.
func (f FlushedIndex) Entries() int {
	return f.entries
}

// errIndexNotFlushed is returned by WriteTree when the token is missing,
// foreign or stale.
var errIndexNotFlushed = errors.New("index was not flushed after the last stage")

func (f FlushedIndex) check(r Repository, gen uint64) error {
	if f.owner != r || f.gen != gen {
		return errIndexNotFlushed
	}
	return nil
}

// Phase names a step of the commit transaction.
type Phase string

// Commit transaction phases, in execution order.
const (
	PhaseStage  Phase = "stage"
	PhaseFlush  Phase = "flush"
	PhaseTree   Phase = "tree"
	PhaseHead   Phase = "head"
	PhaseCommit Phase = "commit"
)

// Backend selects which object store implementation to use.
type Backend int

const (
	// BackendGoGit uses go-git (pure Go, no git binary needed). Default.
	BackendGoGit Backend = iota
	// BackendExec uses the git CLI via os/exec.
	BackendExec
	// BackendMemory keeps objects, index and HEAD in memory. The working tree
	// is still read from disk.
	BackendMemory
)

func (b Backend) String() string {
	switch b {
	case BackendGoGit:
		return "gogit"
	case BackendExec:
		return "exec"
	case BackendMemory:
		return "memory"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend parses a backend name as accepted on the command line.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gogit", "go-git":
		return BackendGoGit, nil
	case "exec", "git":
		return BackendExec, nil
	case "memory", "mem":
		return BackendMemory, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

// Manager opens, initializes and caches repositories.
type Manager struct {
	backend  Backend
	identity Identity
	repos    sync.Map // abs path -> Repository
}

// NewManager creates a repository manager.
//
// identity, when complete, takes precedence over the identity configured in
// each repository.
func NewManager(backend Backend, identity Identity) *Manager {
	return &Manager{backend: backend, identity: identity}
}

// Backend returns the backend used by this manager.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Open returns the repository rooted at root. It fails with a NOT_FOUND error
// if no control directory exists there.
func (m *Manager) Open(ctx context.Context, root string) (Repository, error) {
	dir, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", root, err)
	}
	if r, ok := m.repos.Load(dir); ok {
		return r.(Repository), nil
	}

	var r Repository
	switch m.backend {
	case BackendExec:
		r, err = openExecRepo(ctx, dir, m.identity)
	case BackendMemory:
		return nil, errRepoNotFound(dir)
	default:
		r, err = openGoGitRepo(ctx, dir, m.identity)
	}
	if err != nil {
		return nil, err
	}

	actual, _ := m.repos.LoadOrStore(dir, r)
	return actual.(Repository), nil
}

// Init creates an empty repository with no HEAD at root. It fails with an
// ALREADY_EXISTS error if a control directory is already present.
func (m *Manager) Init(ctx context.Context, root string) (Repository, error) {
	dir, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", root, err)
	}
	if _, ok := m.repos.Load(dir); ok {
		return nil, errRepoExists(dir)
	}

	var r Repository
	switch m.backend {
	case BackendExec:
		r, err = initExecRepo(ctx, dir, m.identity)
	case BackendMemory:
		mr := NewMemRepo(dir)
		mr.identity = m.identity
		r = mr
	default:
		r, err = initGoGitRepo(ctx, dir, m.identity)
	}
	if err != nil {
		return nil, err
	}

	if _, loaded := m.repos.LoadOrStore(dir, r); loaded {
		return nil, errRepoExists(dir)
	}
	return r, nil
}

// Identity is a committer name and email.
type Identity struct {
	Name  string `json:"name" mapstructure:"name"`
	Email string `json:"email" mapstructure:"email"`
}

// Complete reports whether both name and email are set.
func (i Identity) Complete() bool {
	return strings.TrimSpace(i.Name) != "" && strings.TrimSpace(i.Email) != ""
}

func (i Identity) String() string {
	return fmt.Sprintf("%s <%s>", i.Name, i.Email)
}

// Signature is an identity at a point in time.
type Signature struct {
	Identity
	When time.Time
}

// Commit represents a commit in history.
type Commit struct {
	Hash           string    `json:"hash"`
	Tree           string    `json:"tree"`
	Parents        []string  `json:"parents"`
	Message        string    `json:"message"` // Subject line.
	Body           string    `json:"body"`    // Commit body (may be empty).
	Author         string    `json:"author"`
	AuthorEmail    string    `json:"author_email"`
	AuthorDate     time.Time `json:"author_date"`
	Committer      string    `json:"committer"`
	CommitterEmail string    `json:"committer_email"`
	CommitDate     time.Time `json:"commit_date"`
}

// hasControlDir reports whether dir contains a .git entry.
func hasControlDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// cleanRelPath normalizes a path relative to the working tree and rejects
// paths escaping it.
func cleanRelPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q must be relative to the project root", p)
	}
	c := filepath.ToSlash(filepath.Clean(p))
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("path %q is outside the project root", p)
	}
	if c == ".git" || strings.HasPrefix(c, ".git/") {
		return "", fmt.Errorf("path %q is inside the control directory", p)
	}
	return c, nil
}

func capHistory(n int) int {
	if n <= 0 || n > 1000 {
		return 1000
	}
	return n
}
