package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"github.com/schaermu/gitftp/internal/changeset"
	"github.com/schaermu/gitftp/internal/git"
	"github.com/schaermu/gitftp/internal/lock"
	"github.com/schaermu/gitftp/internal/transfer"
)

// Options tune a deployment run. They are fixed for the lifetime of an Engine.
type Options struct {
	DryRun     bool
	// Force ignores dirty trees, remote lock conflicts and unknown deployed
	// revisions. On a dirty tree content comes from the working tree and
	// tracked files missing there are skipped.
	Force      bool
	All        bool // upload every tracked file instead of the changes since the marker
	RemoteLock bool
	SyncRoot   string // deployment root inside the worktree
	IgnoreFile string // relative to the worktree root, defaults to .git-ftp-ignore
	User       string // recorded in the remote lock identity
	Prompter   Prompter
}

// Engine orchestrates the deployment of one repository to one target
type Engine struct {
	repo     git.Client
	client   transfer.Client
	opts     Options
	logger   *slog.Logger
	resolver *changeset.Resolver
	store    *Store
	remote   *lock.Remote
	nested   bool
	dirty    bool // uploads read the working tree of a dirty checkout
}

// NewEngine creates a new deployment engine. The client is expected to be
// already wrapped for retries and dry-run.
func NewEngine(repo git.Client, client transfer.Client, opts Options, logger *slog.Logger) *Engine {
	store := NewStore(client)
	return &Engine{
		repo:     repo,
		client:   client,
		opts:     opts,
		logger:   logger,
		resolver: changeset.NewResolver(repo),
		store:    store,
		remote:   lock.NewRemote(store, opts.RemoteLock, lock.Identity(opts.User, time.Now()), logger),
	}
}

// Init performs the first deployment: every tracked file is uploaded
func (e *Engine) Init(ctx context.Context) (Result, error) {
	e.logger.Info("initializing target", "dry_run", e.opts.DryRun)

	rev, err := e.precheck()
	if err != nil {
		return Result{}, err
	}
	release, res, err := e.acquireLocal()
	if release == nil {
		return res, err
	}
	defer release()

	_, err = e.store.ReadMarker(ctx)
	switch {
	case err == nil:
		return Result{}, Errorf(KindUsage, "%w, use push instead", ErrMarkerExists)
	case !errors.Is(err, ErrMarkerNotFound):
		return Result{}, Errorf(KindDownload, "%w", err)
	}

	cs, err := e.resolver.Resolve("", true, e.opts.SyncRoot, e.ignoreList())
	if err != nil {
		return Result{}, Errorf(KindGit, "failed to compute changes: %w", err)
	}
	return e.deploy(ctx, rev, "", cs)
}

// Push uploads the changes between the deployed revision and HEAD
func (e *Engine) Push(ctx context.Context) (Result, error) {
	e.logger.Info("pushing changes", "dry_run", e.opts.DryRun, "all", e.opts.All)

	rev, err := e.precheck()
	if err != nil {
		return Result{}, err
	}
	release, res, err := e.acquireLocal()
	if release == nil {
		return res, err
	}
	defer release()

	deployed, err := e.store.ReadMarker(ctx)
	if err != nil {
		if errors.Is(err, ErrMarkerNotFound) {
			return Result{}, Errorf(KindDownload, "%w, run init first", err)
		}
		return Result{}, Errorf(KindDownload, "%w", err)
	}
	e.logger.Info("deployed revision", "revision", deployed)

	cs, err := e.resolver.Resolve(deployed, e.opts.All, e.opts.SyncRoot, e.ignoreList())
	if errors.Is(err, changeset.ErrUnknownRevision) {
		if !e.confirmFullSync(deployed) {
			return Result{}, Errorf(KindGit, "%w, use --force or --all to upload all files", err)
		}
		e.logger.Warn("deployed revision unknown, uploading all files", "revision", deployed)
		cs, err = e.resolver.Resolve("", true, e.opts.SyncRoot, e.ignoreList())
	}
	if err != nil {
		return Result{}, Errorf(KindGit, "failed to compute changes: %w", err)
	}
	return e.deploy(ctx, rev, deployed, cs)
}

// Catchup records HEAD as deployed without transferring any file
func (e *Engine) Catchup(ctx context.Context) (Result, error) {
	rev, err := e.repo.CurrentRevision()
	if err != nil {
		return Result{}, Errorf(KindGit, "failed to get current revision: %w", err)
	}
	release, res, err := e.acquireLocal()
	if release == nil {
		return res, err
	}
	defer release()

	if err := e.checkRemoteLock(ctx, rev); err != nil {
		return Result{}, err
	}
	e.logger.Info("catching up", "revision", rev, "dry_run", e.opts.DryRun)
	if err := e.store.WriteMarker(ctx, rev); err != nil {
		return Result{}, Errorf(KindUpload, "%w", err)
	}
	return Result{Status: Deployed, Revision: rev}, nil
}

// Show returns the deployed revision
func (e *Engine) Show(ctx context.Context) (string, error) {
	rev, err := e.store.ReadMarker(ctx)
	if err != nil {
		return "", Errorf(KindDownload, "%w", err)
	}
	return rev, nil
}

// precheck validates the local repository before any lock is taken
func (e *Engine) precheck() (string, error) {
	rev, err := e.repo.CurrentRevision()
	if err != nil {
		return "", Errorf(KindGit, "failed to get current revision: %w", err)
	}
	dirty, err := e.repo.IsDirty()
	if err != nil {
		return "", Errorf(KindGit, "failed to get worktree status: %w", err)
	}
	if dirty {
		if !e.opts.Force {
			return "", Errorf(KindGit, "%w, commit or stash them (or use --force)", ErrDirtyTree)
		}
		e.logger.Warn("working tree is dirty, uploading working tree content")
		e.dirty = true
	}
	e.logger.Debug("current revision", "revision", rev)
	return rev, nil
}

// acquireLocal takes the local lock. A nil release means the run must stop
// with the returned result and error.
func (e *Engine) acquireLocal() (func(), Result, error) {
	if e.repo.GitDir() == "" {
		return func() {}, Result{}, nil
	}
	l, err := lock.AcquireLocal(filepath.Join(e.repo.GitDir(), LockFile))
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyRunning) {
			e.logger.Info("another instance is already running", "error", err)
			return nil, Result{Status: AlreadyRunning}, nil
		}
		return nil, Result{}, Errorf(KindGeneric, "%w", err)
	}
	return func() {
		if err := l.Release(); err != nil {
			e.logger.Warn("failed to release local lock", "error", err)
		}
	}, Result{}, nil
}

func (e *Engine) checkRemoteLock(ctx context.Context, rev string) error {
	err := e.remote.Check(ctx, rev, e.opts.Force)
	var conflict *lock.ConflictError
	if errors.As(err, &conflict) {
		return Errorf(KindRemoteLocked, "%w, use --force to deploy anyway", err)
	}
	if err != nil {
		return Errorf(KindDownload, "%w", err)
	}
	return nil
}

// confirmFullSync decides the unknown-revision policy. Nested runs never prompt.
func (e *Engine) confirmFullSync(deployed string) bool {
	if e.opts.Force || e.nested {
		return true
	}
	if e.opts.Prompter == nil {
		return false
	}
	ok, err := e.opts.Prompter.Confirm(fmt.Sprintf(
		"Revision %s deployed on the target is not in the local history. Upload all files?", deployed))
	if err != nil {
		e.logger.Warn("confirmation failed", "error", err)
		return false
	}
	return ok
}

// deploy executes the change set and writes the marker last
func (e *Engine) deploy(ctx context.Context, rev, deployed string, cs *changeset.ChangeSet) (Result, error) {
	if cs.Empty() {
		if deployed == rev {
			e.logger.Info("everything up-to-date", "revision", rev)
			return Result{Status: NothingToDo, Revision: rev}, nil
		}
		if err := e.checkRemoteLock(ctx, rev); err != nil {
			return Result{}, err
		}
		e.logger.Info("no files to deploy, updating marker", "revision", rev)
		if err := e.store.WriteMarker(ctx, rev); err != nil {
			return Result{}, Errorf(KindUpload, "%w", err)
		}
		return Result{Status: NothingToDo, Revision: rev}, nil
	}

	uploads, deletions := cs.Uploads(), cs.Deletions()
	e.logger.Info("deployment plan",
		"revision", rev,
		"upload", len(uploads),
		"delete", len(deletions),
		"nested", len(cs.Nested),
		"remote_lock", e.remote.Enabled())

	if err := e.checkRemoteLock(ctx, rev); err != nil {
		return Result{}, err
	}
	if err := e.remote.Set(ctx, rev); err != nil {
		return Result{}, Errorf(KindUpload, "%w", err)
	}
	defer func() {
		// Cancellation must not prevent the clear.
		if err := e.remote.Clear(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to clear remote lock", "error", err)
		}
	}()

	res := Result{Status: Deployed, Revision: rev}

	// a path switching between file and directory has to be cleared first
	blocking, blockingDirs := cs.Blocking()
	done := make(map[string]bool, len(blocking)+len(blockingDirs))
	for _, entry := range blocking {
		if e.remove(ctx, entry.Path) {
			res.Deleted++
		}
		done[entry.Path] = true
	}
	for _, dir := range blockingDirs {
		e.removeDir(ctx, dir)
		done[dir] = true
	}

	for i, entry := range uploads {
		if err := ctx.Err(); err != nil {
			return Result{}, Errorf(KindUpload, "deployment interrupted: %w", err)
		}
		e.logger.Info("uploading file", "path", entry.Path, "kind", entry.Kind, "n", i+1, "of", len(uploads))
		f, err := e.repo.ReadFile(path.Join(e.syncRoot(), entry.Path))
		if err != nil {
			if e.dirty && errors.Is(err, fs.ErrNotExist) {
				e.logger.Warn("file missing from working tree, skipping", "path", entry.Path)
				continue
			}
			return Result{}, Errorf(KindUpload, "failed to read %s: %w", entry.Path, err)
		}
		if err := e.upload(ctx, entry.Path, f); err != nil {
			return Result{}, Errorf(KindUpload, "failed to upload %s: %w", entry.Path, err)
		}
		res.Uploaded++
	}

	for _, entry := range cs.Nested {
		if err := e.syncNested(ctx, entry); err != nil {
			return Result{}, err
		}
	}

	for _, entry := range deletions {
		if err := ctx.Err(); err != nil {
			return Result{}, Errorf(KindUpload, "deployment interrupted: %w", err)
		}
		if done[entry.Path] {
			continue
		}
		if e.remove(ctx, entry.Path) {
			res.Deleted++
		}
	}
	for _, dir := range cs.EmptiedDirs() {
		if !done[dir] {
			e.removeDir(ctx, dir)
		}
	}

	if err := e.store.WriteMarker(ctx, rev); err != nil {
		return Result{}, Errorf(KindUpload, "%w", err)
	}
	e.logger.Info("deployment completed", "revision", rev, "uploaded", res.Uploaded, "deleted", res.Deleted)
	return res, nil
}

// remove deletes a remote file; failures are only logged
func (e *Engine) remove(ctx context.Context, rel string) bool {
	e.logger.Info("deleting file", "path", rel)
	if err := e.client.Remove(ctx, rel); err != nil {
		e.logger.Warn("failed to delete file", "path", rel, "error", err)
		return false
	}
	return true
}

func (e *Engine) removeDir(ctx context.Context, rel string) {
	if err := e.client.RemoveDirIfEmpty(ctx, rel); err != nil {
		e.logger.Warn("failed to remove directory", "path", rel, "error", err)
	}
}

func (e *Engine) upload(ctx context.Context, rel string, f io.ReadCloser) error {
	defer func() {
		_ = f.Close()
	}()
	return e.client.Upload(ctx, rel, f)
}

// ignoreList loads the ignore patterns from the worktree; a missing file means no patterns
func (e *Engine) ignoreList() *changeset.IgnoreList {
	name := e.opts.IgnoreFile
	if name == "" {
		name = changeset.IgnoreFile
	}
	f, err := e.repo.ReadFile(name)
	if err != nil {
		return changeset.NewIgnoreList()
	}
	defer func() {
		_ = f.Close()
	}()
	list, err := changeset.ParseIgnore(f)
	if err != nil {
		e.logger.Warn("failed to read ignore file", "file", name, "error", err)
		return changeset.NewIgnoreList()
	}
	e.logger.Debug("ignore patterns", "file", name, "patterns", list.Patterns())
	return list
}

func (e *Engine) syncRoot() string {
	root := path.Clean("/" + e.opts.SyncRoot)
	if root == "/" {
		return ""
	}
	return root[1:]
}
