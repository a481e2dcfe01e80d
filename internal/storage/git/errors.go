package git

import (
	errs "github.com/unheard/unheard/internal/errors"
)

func errRepoNotFound(dir string) error {
	return errs.Newf(errs.ErrNotFound, "no repository at %s", dir).WithDetail("path", dir)
}

func errRepoExists(dir string) error {
	return errs.Newf(errs.ErrAlreadyExists, "directory already contains a repository (%s/.git exists)", dir).WithDetail("path", dir)
}

// phaseError builds the typed error returned by CommitPaths for a failed phase.
func phaseError(phase Phase, path string, err error) error {
	var code errs.ErrorCode
	var msg string
	switch phase {
	case PhaseStage:
		code, msg = errs.ErrStageFailed, "failed to add "+path+" to index"
	case PhaseFlush:
		code, msg = errs.ErrTreeFailed, "failed to write index"
	case PhaseTree:
		code, msg = errs.ErrTreeFailed, "failed to write tree"
	case PhaseHead:
		code, msg = errs.ErrCommitFailed, "failed to read HEAD"
	default:
		code, msg = errs.ErrCommitFailed, "failed to create commit"
	}
	e := errs.New(code, msg).WithDetail("phase", string(phase)).Wrap(err)
	if path != "" {
		e = e.WithDetail("path", path)
	}
	return e
}
