package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	errs "github.com/unheard/unheard/internal/errors"
	"github.com/unheard/unheard/internal/project"
)

// CreateDecision writes a markdown decision log to decisions/<name> and
// commits it. The relative path is returned even if the commit fails.
//
// YAML front matter, when present, must parse.
func (in *Ingester) CreateDecision(ctx context.Context, root, name, content string) (string, error) {
	slog.InfoContext(ctx, "ingest: creating decision log", "file", name, "root", root)
	if strings.TrimSpace(content) == "" {
		return "", errs.Invalid("Content cannot be empty")
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	if !strings.HasSuffix(name, ".md") {
		return "", errs.Invalid("Filename must end with .md")
	}
	if err := checkFrontMatter(content); err != nil {
		return "", err
	}

	rel := project.DecisionsDir + "/" + name
	if err := writeArtifact(ctx, root, rel, []byte(content)); err != nil {
		return "", err
	}
	if _, err := in.commit(ctx, root, []string{rel}, "Create decision: "+name); err != nil {
		logUncommitted(ctx, "Decision log", root, err)
	}
	return rel, nil
}

// checkFrontMatter parses the YAML block delimited by "---" lines at the top
// of a markdown document.
func checkFrontMatter(content string) *errs.Error {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return nil
	}
	block, _, found := strings.Cut(rest, "\n---")
	if !found {
		return errs.Invalid("front matter is not terminated")
	}
	var meta map[string]any
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return errs.Invalid("invalid front matter: %v", err)
	}
	return nil
}

// WriteExperiment writes a YAML experiment config under experiments/ and
// commits it. If the name is taken, "-2", "-3", ... is inserted before the
// extension; an existing file is never overwritten. The relative path is
// returned even if the commit fails.
func (in *Ingester) WriteExperiment(ctx context.Context, root, name, content string) (string, error) {
	slog.InfoContext(ctx, "ingest: writing experiment config", "file", name, "root", root)
	if strings.TrimSpace(content) == "" {
		return "", errs.Invalid("YAML content cannot be empty")
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	if !strings.HasSuffix(name, ".yaml") {
		return "", errs.Invalid("Filename must end with .yaml")
	}
	var doc any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return "", errs.Invalid("invalid YAML: %v", err)
	}

	dir := filepath.Join(root, project.ExperimentsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: project content is shared
		return "", errs.IOError("failed to create experiments directory", err)
	}
	final, err := uniqueName(dir, name)
	if err != nil {
		return "", err
	}

	rel := project.ExperimentsDir + "/" + final
	if err := writeArtifact(ctx, root, rel, []byte(content)); err != nil {
		return "", err
	}
	if _, err := in.commit(ctx, root, []string{rel}, "[unheard] Add experiment config: "+final); err != nil {
		logUncommitted(ctx, "Experiment config", root, err)
	}
	return rel, nil
}

// uniqueName returns name, or the first of stem-2.ext, stem-3.ext, ... that
// does not exist in dir.
func uniqueName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 2; ; i++ {
		_, err := os.Lstat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", errs.IOError("failed to check "+candidate, err)
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}
