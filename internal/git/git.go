package git

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

var (
	// ErrNotRepository is returned when the path is not inside a git repository.
	ErrNotRepository = errors.New("not a git repository")
	// ErrNoCommits is returned when HEAD does not point to a commit yet.
	ErrNoCommits = errors.New("repository has no commits")
	// ErrRevisionNotFound is returned when a revision is not part of the local history.
	ErrRevisionNotFound = errors.New("revision not found")
	// ErrNestedUnitNotFound is returned when a path is not a registered submodule.
	ErrNestedUnitNotFound = errors.New("nested unit not found")
)

// Action is the kind of change a path went through between two revisions
type Action int

const (
	Insert Action = iota + 1
	Modify
	Delete
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Change is a single path-level difference between two revisions
type Change struct {
	Path      string
	Action    Action
	Submodule bool // the entry is a gitlink to a nested repository
}

// File is a tracked path at a revision
type File struct {
	Path      string
	Submodule bool
}

// Client is the version-control query service consumed by the deployment engine
type Client interface {
	// CurrentRevision returns the commit hash HEAD points to
	CurrentRevision() (string, error)
	// HasRevision reports whether rev is part of the local history
	HasRevision(rev string) bool
	// Diff returns the changes between two revisions restricted to scope.
	// Paths are relative to scope.
	Diff(from, to, scope string) ([]Change, error)
	// ListTrackedFiles returns every tracked path under scope at HEAD,
	// relative to scope.
	ListTrackedFiles(scope string) ([]File, error)
	// IsDirty reports uncommitted changes to tracked files
	IsDirty() (bool, error)
	// NestedUnits returns the mount points of submodules relative to the worktree root
	NestedUnits() ([]string, error)
	// OpenNested opens the repository mounted at path
	OpenNested(path string) (Client, error)
	// ReadFile opens a worktree file, path relative to the worktree root
	ReadFile(path string) (io.ReadCloser, error)
	// GitDir returns the path of the repository metadata directory
	GitDir() string
	// Root returns the worktree root
	Root() string
}

// Repository implements Client on top of go-git
type Repository struct {
	repo   *gogit.Repository
	fs     billy.Filesystem
	gitDir string
}

// Open opens the repository containing path, searching parent directories
func Open(dir string) (*Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return New(repo, "")
}

// New wraps an already opened go-git repository. When gitDir is empty it is
// derived from the repository storage, if that storage lives on a filesystem.
func New(repo *gogit.Repository, gitDir string) (*Repository, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	if gitDir == "" {
		if s, ok := repo.Storer.(*filesystem.Storage); ok {
			gitDir = s.Filesystem().Root()
		}
	}
	return &Repository{repo: repo, fs: wt.Filesystem, gitDir: gitDir}, nil
}

// CurrentRevision returns the commit hash HEAD points to
func (r *Repository) CurrentRevision() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoCommits
		}
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// HasRevision reports whether rev resolves to a commit in the local history
func (r *Repository) HasRevision(rev string) bool {
	_, err := r.commit(rev)
	return err == nil
}

func (r *Repository) commit(rev string) (*object.Commit, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return nil, ErrRevisionNotFound
	}
	var hash plumbing.Hash
	if plumbing.IsHash(rev) {
		hash = plumbing.NewHash(rev)
	} else {
		resolved, err := r.repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rev, ErrRevisionNotFound)
		}
		hash = *resolved
	}
	c, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rev, ErrRevisionNotFound)
	}
	return c, nil
}

// scopedTree returns the tree of rev below scope. A scope that does not exist
// at rev yields a nil tree, which diffs as empty.
func (r *Repository) scopedTree(rev, scope string) (*object.Tree, error) {
	c, err := r.commit(rev)
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %s: %w", rev, err)
	}
	scope = cleanScope(scope)
	if scope == "" {
		return tree, nil
	}
	sub, err := tree.Tree(scope)
	if err != nil {
		if errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subtree %s: %w", scope, err)
	}
	return sub, nil
}

// Diff returns the changes between two revisions restricted to scope
func (r *Repository) Diff(from, to, scope string) ([]Change, error) {
	a, err := r.scopedTree(from, scope)
	if err != nil {
		return nil, err
	}
	b, err := r.scopedTree(to, scope)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to compute changes: %w", err)
	}

	result := make([]Change, 0, len(changes))
	for _, c := range changes {
		action, err := c.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to classify change: %w", err)
		}
		var ch Change
		switch action {
		case merkletrie.Insert:
			ch = Change{Path: c.To.Name, Action: Insert, Submodule: c.To.TreeEntry.Mode == filemode.Submodule}
		case merkletrie.Modify:
			ch = Change{Path: c.To.Name, Action: Modify, Submodule: c.To.TreeEntry.Mode == filemode.Submodule}
		case merkletrie.Delete:
			ch = Change{Path: c.From.Name, Action: Delete, Submodule: c.From.TreeEntry.Mode == filemode.Submodule}
		}
		result = append(result, ch)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// ListTrackedFiles returns every tracked path under scope at HEAD
func (r *Repository) ListTrackedFiles(scope string) ([]File, error) {
	rev, err := r.CurrentRevision()
	if err != nil {
		return nil, err
	}
	tree, err := r.scopedTree(rev, scope)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, nil
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	var files []File
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk tree: %w", err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		files = append(files, File{Path: name, Submodule: entry.Mode == filemode.Submodule})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// IsDirty reports uncommitted changes to tracked files; untracked files are ignored
func (r *Repository) IsDirty() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	for _, s := range status {
		if s.Staging == gogit.Untracked && s.Worktree == gogit.Untracked {
			continue
		}
		if s.Staging != gogit.Unmodified || s.Worktree != gogit.Unmodified {
			return true, nil
		}
	}
	return false, nil
}

// NestedUnits returns the submodule mount points declared in .gitmodules
func (r *Repository) NestedUnits() ([]string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	subs, err := wt.Submodules()
	if err != nil {
		return nil, fmt.Errorf("failed to read submodules: %w", err)
	}
	paths := make([]string, 0, len(subs))
	for _, s := range subs {
		paths = append(paths, path.Clean(s.Config().Path))
	}
	sort.Strings(paths)
	return paths, nil
}

// OpenNested opens the submodule repository mounted at mount
func (r *Repository) OpenNested(mount string) (Client, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	subs, err := wt.Submodules()
	if err != nil {
		return nil, fmt.Errorf("failed to read submodules: %w", err)
	}
	mount = path.Clean(mount)
	for _, s := range subs {
		if path.Clean(s.Config().Path) != mount {
			continue
		}
		repo, err := s.Repository()
		if err != nil {
			return nil, fmt.Errorf("failed to open submodule %s: %w", mount, err)
		}
		return New(repo, "")
	}
	return nil, fmt.Errorf("%s: %w", mount, ErrNestedUnitNotFound)
}

// ReadFile opens a worktree file
func (r *Repository) ReadFile(name string) (io.ReadCloser, error) {
	return r.fs.Open(name)
}

// GitDir returns the repository metadata directory, empty for in-memory storage
func (r *Repository) GitDir() string {
	return r.gitDir
}

// Root returns the worktree root
func (r *Repository) Root() string {
	return r.fs.Root()
}

func cleanScope(scope string) string {
	scope = strings.Trim(path.Clean("/"+scope), "/")
	if scope == "." {
		return ""
	}
	return scope
}
