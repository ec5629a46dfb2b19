package changeset

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/schaermu/gitftp/internal/git"
)

// ErrUnknownRevision is returned when the deployed revision is not part of the
// local history (rewritten history, wrong branch). The caller decides whether
// to fall back to a full resync.
var ErrUnknownRevision = errors.New("deployed revision not found in local history")

// Kind is the transfer operation a path needs
type Kind int

const (
	Added Kind = iota + 1
	Modified
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Entry is a single path-level operation, path relative to the sync root
type Entry struct {
	Path string
	Kind Kind
}

// ChangeSet is the ordered list of operations bringing the remote from Base to Revision.
// Entries holds uploads first, then deletions, each in lexical path order.
// Nested holds the nested units (submodules) touched by the change.
type ChangeSet struct {
	Base     string // deployed revision, empty for a full sync
	Revision string // current revision
	Entries  []Entry
	Nested   []Entry
}

// Empty reports whether there is nothing to deploy
func (cs *ChangeSet) Empty() bool {
	return len(cs.Entries) == 0 && len(cs.Nested) == 0
}

// Uploads returns the Added and Modified entries
func (cs *ChangeSet) Uploads() []Entry {
	var out []Entry
	for _, e := range cs.Entries {
		if e.Kind != Deleted {
			out = append(out, e)
		}
	}
	return out
}

// Deletions returns the Deleted entries
func (cs *ChangeSet) Deletions() []Entry {
	var out []Entry
	for _, e := range cs.Entries {
		if e.Kind == Deleted {
			out = append(out, e)
		}
	}
	return out
}

// EmptiedDirs returns the parent directories of deleted paths, deepest first.
// Removal of these is attempted only after every deletion has been processed.
// Directories that are upload targets or still hold uploads are left out.
func (cs *ChangeSet) EmptiedDirs() []string {
	uploads, uploadDirs := cs.uploadIndex()
	seen := make(map[string]bool)
	var dirs []string
	for _, e := range cs.Deletions() {
		for dir := path.Dir(e.Path); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if seen[dir] {
				break
			}
			seen[dir] = true
			if uploads[dir] || uploadDirs[dir] {
				continue
			}
			dirs = append(dirs, dir)
		}
	}
	sortDeepestFirst(dirs)
	return dirs
}

// Blocking returns the deletions that have to run before any upload because
// they collide with an upload path: a file replaced by a directory, or a
// directory replaced by a file. dirs are the directories to remove after those
// deletions so the file can take their place, deepest first.
func (cs *ChangeSet) Blocking() (deletions []Entry, dirs []string) {
	uploads, uploadDirs := cs.uploadIndex()
	seen := make(map[string]bool)
	for _, e := range cs.Deletions() {
		if uploadDirs[e.Path] {
			deletions = append(deletions, e)
			continue
		}
		var chain []string
		for dir := path.Dir(e.Path); dir != "." && dir != "/"; dir = path.Dir(dir) {
			chain = append(chain, dir)
			if !uploads[dir] {
				continue
			}
			deletions = append(deletions, e)
			for _, d := range chain {
				if !seen[d] {
					seen[d] = true
					dirs = append(dirs, d)
				}
			}
			break
		}
	}
	sortDeepestFirst(dirs)
	return deletions, dirs
}

// uploadIndex returns the upload paths and every directory above them
func (cs *ChangeSet) uploadIndex() (files, dirs map[string]bool) {
	files = make(map[string]bool)
	dirs = make(map[string]bool)
	for _, e := range cs.Uploads() {
		files[e.Path] = true
		for dir := path.Dir(e.Path); dir != "." && dir != "/" && !dirs[dir]; dir = path.Dir(dir) {
			dirs[dir] = true
		}
	}
	return files, dirs
}

func sortDeepestFirst(dirs []string) {
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/")
		if di != dj {
			return di > dj
		}
		return dirs[i] < dirs[j]
	})
}

// NestedSet is the set of nested unit mount points, relative to the sync root
type NestedSet map[string]struct{}

// NewNestedSet builds the set from mount points relative to the worktree root,
// keeping only those below syncRoot.
func NewNestedSet(mounts []string, syncRoot string) NestedSet {
	root := cleanRoot(syncRoot)
	s := make(NestedSet, len(mounts))
	for _, m := range mounts {
		m = path.Clean(m)
		if root != "" {
			if !strings.HasPrefix(m, root+"/") {
				continue
			}
			m = strings.TrimPrefix(m, root+"/")
		}
		s[m] = struct{}{}
	}
	return s
}

// Mount returns the mount point p falls under, if any
func (s NestedSet) Mount(p string) (string, bool) {
	for dir := path.Clean(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, ok := s[dir]; ok {
			return dir, true
		}
	}
	return "", false
}

// Contains reports whether p is a nested unit mount point or lies below one
func (s NestedSet) Contains(p string) bool {
	_, ok := s.Mount(p)
	return ok
}

// Resolver computes change sets from the version-control history
type Resolver struct {
	repo git.Client
}

// NewResolver creates a resolver over repo
func NewResolver(repo git.Client) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve computes the operations needed to bring the remote from deployed to
// the current revision, restricted to syncRoot and filtered by ignore.
// With fullSync or an empty deployed revision every tracked path is Added.
func (r *Resolver) Resolve(deployed string, fullSync bool, syncRoot string, ignore *IgnoreList) (*ChangeSet, error) {
	current, err := r.repo.CurrentRevision()
	if err != nil {
		return nil, fmt.Errorf("failed to get current revision: %w", err)
	}

	mounts, err := r.repo.NestedUnits()
	if err != nil {
		return nil, fmt.Errorf("failed to list nested units: %w", err)
	}
	nested := NewNestedSet(mounts, syncRoot)

	cs := &ChangeSet{Revision: current}
	root := cleanRoot(syncRoot)

	if fullSync || deployed == "" {
		files, err := r.repo.ListTrackedFiles(root)
		if err != nil {
			return nil, fmt.Errorf("failed to list tracked files: %w", err)
		}
		changes := make([]git.Change, 0, len(files))
		for _, f := range files {
			changes = append(changes, git.Change{Path: f.Path, Action: git.Insert, Submodule: f.Submodule})
		}
		cs.fill(changes, nested, ignore)
		return cs, nil
	}

	if !r.repo.HasRevision(deployed) {
		return nil, fmt.Errorf("%s: %w", deployed, ErrUnknownRevision)
	}
	cs.Base = deployed

	changes, err := r.repo.Diff(deployed, current, root)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", deployed, current, err)
	}
	cs.fill(changes, nested, ignore)
	return cs, nil
}

// fill classifies, filters, deduplicates and orders changes
func (cs *ChangeSet) fill(changes []git.Change, nested NestedSet, ignore *IgnoreList) {
	byPath := make(map[string]Kind, len(changes))
	nestedByPath := make(map[string]Kind)

	for _, c := range changes {
		p := strings.TrimPrefix(path.Clean(c.Path), "/")
		if ignore.Match(p) {
			continue
		}
		kind := kindOf(c.Action)

		mount, isNested := nested.Mount(p)
		if c.Submodule || isNested {
			if !isNested {
				mount = p
			}
			nestedByPath[mount] = merge(nestedByPath[mount], kind)
			continue
		}
		byPath[p] = merge(byPath[p], kind)
	}

	var uploads, deletions []Entry
	for p, k := range byPath {
		if k == Deleted {
			deletions = append(deletions, Entry{Path: p, Kind: k})
		} else {
			uploads = append(uploads, Entry{Path: p, Kind: k})
		}
	}
	sortEntries(uploads)
	sortEntries(deletions)
	cs.Entries = append(uploads, deletions...)

	for p, k := range nestedByPath {
		cs.Nested = append(cs.Nested, Entry{Path: p, Kind: k})
	}
	sortEntries(cs.Nested)
}

// merge combines two operations on the same path; anything that leaves
// content behind wins over a deletion.
func merge(prev, next Kind) Kind {
	switch {
	case prev == 0:
		return next
	case prev == Deleted:
		if next == Deleted {
			return Deleted
		}
		return Modified
	case next == Deleted:
		return Modified
	case prev == Added || next == Added:
		return Added
	}
	return Modified
}

func kindOf(a git.Action) Kind {
	switch a {
	case git.Insert:
		return Added
	case git.Delete:
		return Deleted
	}
	return Modified
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

func cleanRoot(syncRoot string) string {
	root := strings.Trim(path.Clean("/"+syncRoot), "/")
	if root == "." {
		return ""
	}
	return root
}
