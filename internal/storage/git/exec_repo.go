// Implements Repository using os/exec git plumbing commands.

package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ExecRepo implements Repository using os/exec git commands.
//
// `git add` writes .git/index itself, so FlushIndex only issues the token.
// Global git config is ignored, so the git-lfs filter declared in
// .gitattributes only runs when it is configured in the repository's local
// config.
type ExecRepo struct {
	dir      string
	identity Identity

	mu  sync.Mutex
	gen uint64
}

func openExecRepo(_ context.Context, dir string, identity Identity) (*ExecRepo, error) {
	if !hasControlDir(dir) {
		return nil, errRepoNotFound(dir)
	}
	return &ExecRepo{dir: dir, identity: identity}, nil
}

func initExecRepo(ctx context.Context, dir string, identity Identity) (*ExecRepo, error) {
	if hasControlDir(dir) {
		return nil, errRepoExists(dir)
	}
	r := &ExecRepo{dir: dir, identity: identity}
	if out, err := r.gitCombinedOutput(ctx, "init", "-q"); err != nil {
		return nil, fmt.Errorf("failed to initialize git repo: %w\nOutput: %s", err, string(out))
	}
	return r, nil
}

// Root returns the absolute path of the working tree.
func (r *ExecRepo) Root() string {
	return r.dir
}

// Stage runs `git add` for a single existing file.
func (r *ExecRepo) Stage(ctx context.Context, relPath string) error {
	rel, err := cleanRelPath(relPath)
	if err != nil {
		return err
	}
	fi, err := os.Stat(filepath.Join(r.dir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", rel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if out, err := r.gitCombinedOutput(ctx, "add", "-f", "--", rel); err != nil {
		return fmt.Errorf("git add %s: %w\nOutput: %s", rel, err, string(out))
	}
	r.gen++
	return nil
}

// FlushIndex verifies the index file is present.
func (r *ExecRepo) FlushIndex(ctx context.Context) (FlushedIndex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := r.gitOutput(ctx, "ls-files", "--cached", "-z")
	if err != nil {
		return FlushedIndex{}, fmt.Errorf("failed to read index: %w", err)
	}
	n := 0
	for p := range strings.SplitSeq(string(out), "\x00") {
		if p != "" {
			n++
		}
	}
	return FlushedIndex{owner: r, gen: r.gen, entries: n}, nil
}

// WriteTree runs `git write-tree`.
func (r *ExecRepo) WriteTree(ctx context.Context, fi FlushedIndex) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := fi.check(r, r.gen); err != nil {
		return "", err
	}
	out, err := r.gitOutput(ctx, "write-tree")
	if err != nil {
		return "", fmt.Errorf("git write-tree: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Head runs `git rev-parse --verify HEAD`.
func (r *ExecRepo) Head(ctx context.Context) (string, bool, error) {
	out, err := r.gitOutput(ctx, "rev-parse", "-q", "--verify", "HEAD^{commit}")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), true, nil
}

// Commit runs `git commit-tree` then `git update-ref HEAD`.
func (r *ExecRepo) Commit(ctx context.Context, tree string, parents []string, sig Signature, msg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	args := []string{"commit-tree", tree}
	for _, p := range parents {
		args = append(args, "-p", p)
	}
	args = append(args, "-m", msg)

	date := fmt.Sprintf("%d +0000", sig.When.UTC().Unix())
	env := []string{
		"GIT_AUTHOR_NAME=" + sig.Name,
		"GIT_AUTHOR_EMAIL=" + sig.Email,
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_NAME=" + sig.Name,
		"GIT_COMMITTER_EMAIL=" + sig.Email,
		"GIT_COMMITTER_DATE=" + date,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	cmd := r.gitCmd(ctx, args...)
	cmd.Env = append(cmd.Env, env...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git commit-tree: %w", err)
	}
	hash := strings.TrimSpace(string(out))

	if out, err := r.gitCombinedOutput(ctx, "update-ref", "HEAD", hash); err != nil {
		return "", fmt.Errorf("git update-ref HEAD: %w\nOutput: %s", err, string(out))
	}
	return hash, nil
}

// ConfiguredIdentity returns the manager identity, or user.name/user.email
// from the repository's local config.
func (r *ExecRepo) ConfiguredIdentity(ctx context.Context) (Identity, bool) {
	if r.identity.Complete() {
		return r.identity, true
	}
	name, _ := r.gitOutput(ctx, "config", "--local", "--get", "user.name")
	email, _ := r.gitOutput(ctx, "config", "--local", "--get", "user.email")
	id := Identity{Name: strings.TrimSpace(string(name)), Email: strings.TrimSpace(string(email))}
	return id, id.Complete()
}

// Log returns commit history reachable from HEAD.
func (r *ExecRepo) Log(ctx context.Context, n int) ([]*Commit, error) {
	n = capHistory(n)

	// Use record separator (%x1e) between commits since body can contain newlines
	format := "%H%x00%T%x00%P%x00%an%x00%ae%x00%aI%x00%cn%x00%ce%x00%cI%x00%s%x00%b%x1e"
	out, err := r.gitCombinedOutput(ctx, "log", "--pretty=format:"+format, fmt.Sprintf("-n%d", n))
	if err != nil {
		return nil, nil //nolint:nilerr // git log fails before the first commit, which is not an error condition
	}
	return parseLog(string(out)), nil
}

func parseLog(out string) []*Commit {
	var commits []*Commit
	for record := range strings.SplitSeq(out, "\x1e") {
		record = strings.TrimLeft(record, "\n")
		if strings.TrimSpace(record) == "" {
			continue
		}
		parts := strings.Split(record, "\x00")
		if len(parts) < 11 {
			continue
		}
		authorDate, _ := time.Parse(time.RFC3339, parts[5])
		commitDate, _ := time.Parse(time.RFC3339, parts[8])
		commits = append(commits, &Commit{
			Hash:           parts[0],
			Tree:           parts[1],
			Parents:        strings.Fields(parts[2]),
			Author:         parts[3],
			AuthorEmail:    parts[4],
			AuthorDate:     authorDate,
			Committer:      parts[6],
			CommitterEmail: parts[7],
			CommitDate:     commitDate,
			Message:        parts[9],
			Body:           strings.TrimSpace(parts[10]),
		})
	}
	return commits
}

// FileAtCommit retrieves the content of a file at a specific commit.
func (r *ExecRepo) FileAtCommit(ctx context.Context, hash, filePath string) ([]byte, error) {
	out, err := r.gitOutput(ctx, "show", fmt.Sprintf("%s:%s", hash, filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	return out, nil
}

// gitCmd creates an exec.Cmd for git with standard environment settings.
//
// Global and system config are ignored so that only the repository's own
// config influences identity resolution.
func (r *ExecRepo) gitCmd(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(),
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
		"GIT_CONFIG_NOSYSTEM=1",
	)
	return cmd
}

// gitOutput executes a git command and returns its stdout.
//
// The command is not tied to the caller's cancellation: once staging begins
// the transaction runs to completion or to its first hard error.
func (r *ExecRepo) gitOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).Output()
}

// gitCombinedOutput executes a git command and returns combined stdout/stderr.
func (r *ExecRepo) gitCombinedOutput(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	return r.gitCmd(ctx, args...).CombinedOutput()
}
