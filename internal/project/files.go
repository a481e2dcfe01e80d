package project

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/unheard/unheard/internal/contextfile"
	errs "github.com/unheard/unheard/internal/errors"
)

// File is a file found in a project directory.
type File struct {
	Path      string `json:"path"` // Relative to the project root, slash separated.
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	Supported bool   `json:"isSupported"`
}

// ListProjectFiles walks root recursively, skipping dot-prefixed files and
// directories. A file is supported when the default context file registry
// can parse it.
func ListProjectFiles(root string) ([]File, error) {
	fi, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.ErrNotFound, "Project directory does not exist").WithDetail("path", root)
		}
		return nil, errs.IOError("failed to stat project directory", err)
	}
	if !fi.IsDir() {
		return nil, errs.Invalid("Path is not a directory").WithDetail("path", root)
	}

	parsers := contextfile.NewRegistry(0)
	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		ext := contextfile.Ext(d.Name())
		files = append(files, File{
			Path:      filepath.ToSlash(rel),
			Name:      d.Name(),
			Extension: ext,
			Size:      size,
			Supported: parsers.Supported(d.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, errs.IOError("failed to read project directory", err)
	}
	return files, nil
}
