// Object encoding shared by the go-git and in-memory backends.

package git

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// workFile is a regular file opened from the working tree for staging.
type workFile struct {
	f    *os.File
	rel  string
	info os.FileInfo
	mode filemode.FileMode
}

// openWorkFile opens root/relPath after validating relPath. The caller must
// close the returned file.
func openWorkFile(root, relPath string) (*workFile, error) {
	rel, err := cleanRelPath(relPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel))) //nolint:gosec // G304: path is confined to the working tree
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is not a regular file", rel)
	}
	mode, err := filemode.NewFromOSFileMode(fi.Mode())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("unsupported file mode for %s: %w", rel, err)
	}
	return &workFile{f: f, rel: rel, info: fi, mode: mode}, nil
}

func (w *workFile) Close() error {
	return w.f.Close()
}

// writeBlob stores src as a blob object.
func writeBlob(s storer.EncodedObjectStorer, src io.Reader, size int64) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(size)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, fmt.Errorf("failed to read content: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// stageBlob writes the file as a blob and records it in idx, replacing any
// previous entry for the same path. Entries that conflict with it as a
// directory are dropped, like git add does.
func stageBlob(s storer.EncodedObjectStorer, idx *index.Index, wf *workFile) error {
	h, err := writeBlob(s, wf.f, wf.info.Size())
	if err != nil {
		return err
	}
	dropConflicts(idx, wf.rel)
	e, err := idx.Entry(wf.rel)
	if err != nil {
		if !errors.Is(err, index.ErrEntryNotFound) {
			return err
		}
		e = idx.Add(wf.rel)
	}
	e.Hash = h
	e.Mode = wf.mode
	e.Size = uint32(wf.info.Size()) //nolint:gosec // G115: index stores the truncated size like git does
	e.ModifiedAt = wf.info.ModTime()
	return nil
}

// dropConflicts removes the entries of idx that name a parent directory of
// rel, or that live under rel as if it were a directory.
func dropConflicts(idx *index.Index, rel string) {
	idx.Entries = slices.DeleteFunc(idx.Entries, func(e *index.Entry) bool {
		return strings.HasPrefix(rel, e.Name+"/") || strings.HasPrefix(e.Name, rel+"/")
	})
}

// sortIndex orders entries by path as git expects on disk.
func sortIndex(idx *index.Index) {
	sort.Slice(idx.Entries, func(i, j int) bool { return idx.Entries[i].Name < idx.Entries[j].Name })
}

// writeTree encodes every entry of idx as nested tree objects and returns the
// root tree hash.
func writeTree(s storer.EncodedObjectStorer, idx *index.Index) (plumbing.Hash, error) {
	root := newTreeNode()
	for _, e := range idx.Entries {
		root.insert(strings.Split(e.Name, "/"), object.TreeEntry{Mode: e.Mode, Hash: e.Hash})
	}
	return writeTreeNode(s, root)
}

func writeTreeNode(s storer.EncodedObjectStorer, n *treeNode) (plumbing.Hash, error) {
	t := &object.Tree{}
	for name, child := range n.dirs {
		h, err := writeTreeNode(s, child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		t.Entries = append(t.Entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	for name, e := range n.files {
		e.Name = name
		t.Entries = append(t.Entries, e)
	}
	sortTreeEntries(t.Entries)

	obj := s.NewEncodedObject()
	if err := t.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

// writeCommit encodes a commit with sig as both author and committer.
func writeCommit(s storer.EncodedObjectStorer, tree string, parents []string, sig Signature, msg string) (plumbing.Hash, error) {
	who := object.Signature{Name: sig.Name, Email: sig.Email, When: sig.When}
	c := &object.Commit{
		Author:    who,
		Committer: who,
		Message:   msg,
		TreeHash:  plumbing.NewHash(tree),
	}
	for _, p := range parents {
		c.ParentHashes = append(c.ParentHashes, plumbing.NewHash(p))
	}
	obj := s.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

func fromObjectCommit(c *object.Commit) *Commit {
	subject, body, _ := strings.Cut(c.Message, "\n")
	out := &Commit{
		Hash:           c.Hash.String(),
		Tree:           c.TreeHash.String(),
		Message:        subject,
		Body:           strings.TrimSpace(body),
		Author:         c.Author.Name,
		AuthorEmail:    c.Author.Email,
		AuthorDate:     c.Author.When,
		Committer:      c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommitDate:     c.Committer.When,
	}
	for _, p := range c.ParentHashes {
		out.Parents = append(out.Parents, p.String())
	}
	return out
}

// readCommitFile returns the content of filePath in the tree of commit c.
func readCommitFile(c *object.Commit, filePath string) ([]byte, error) {
	f, err := c.File(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

// treeNode is a directory level while building nested trees from flat index
// paths.
type treeNode struct {
	dirs  map[string]*treeNode
	files map[string]object.TreeEntry
}

func newTreeNode() *treeNode {
	return &treeNode{dirs: map[string]*treeNode{}, files: map[string]object.TreeEntry{}}
}

func (n *treeNode) insert(parts []string, e object.TreeEntry) {
	for _, p := range parts[:len(parts)-1] {
		child, ok := n.dirs[p]
		if !ok {
			child = newTreeNode()
			n.dirs[p] = child
		}
		n = child
	}
	n.files[parts[len(parts)-1]] = e
}

// sortTreeEntries orders entries the way git does: directories compare as if
// their name had a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	key := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(entries, func(i, j int) bool { return key(entries[i]) < key(entries[j]) })
}
