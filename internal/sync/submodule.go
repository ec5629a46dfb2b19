package sync

import (
	"context"
	"errors"
	"path"

	"github.com/schaermu/gitftp/internal/changeset"
	"github.com/schaermu/gitftp/internal/transfer"
)

// syncNested deploys a submodule with its own marker and lock under the
// submodule's remote subpath. A submodule that was never deployed is initialized.
func (e *Engine) syncNested(ctx context.Context, entry changeset.Entry) error {
	mount := path.Join(e.syncRoot(), entry.Path)
	logger := e.logger.With("submodule", mount)

	if entry.Kind == changeset.Deleted {
		logger.Warn("submodule removed from repository, leaving remote files in place")
		return nil
	}

	repo, err := e.repo.OpenNested(mount)
	if err != nil {
		return Errorf(KindGit, "failed to open submodule %s: %w", mount, err)
	}

	opts := e.opts
	opts.SyncRoot = ""
	opts.IgnoreFile = ""
	opts.Prompter = nil

	child := NewEngine(repo, transfer.Sub(e.client, entry.Path), opts, logger)
	child.nested = true

	logger.Info("deploying submodule")
	res, err := child.Push(ctx)
	if errors.Is(err, ErrMarkerNotFound) {
		logger.Info("submodule not deployed yet, initializing")
		res, err = child.Init(ctx)
	}
	if err != nil {
		return err
	}
	logger.Info("submodule done", "status", res.Status, "revision", res.Revision)
	return nil
}
