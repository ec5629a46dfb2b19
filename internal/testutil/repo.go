package testutil

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"
)

// Repo is an in-memory git repository with a worktree, for tests that need real history
type Repo struct {
	t    *testing.T
	Repo *gogit.Repository
	FS   billy.Filesystem
	wt   *gogit.Worktree
}

// NewRepo initializes an empty in-memory repository
func NewRepo(t *testing.T) *Repo {
	t.Helper()

	fs := memfs.New()
	repo, err := gogit.Init(memory.NewStorage(), fs)
	require.NoError(t, err, "failed to initialize test repository")

	wt, err := repo.Worktree()
	require.NoError(t, err, "failed to get worktree")

	return &Repo{t: t, Repo: repo, FS: fs, wt: wt}
}

// WriteFile creates or overwrites a file in the worktree and stages it
func (r *Repo) WriteFile(name, content string) {
	r.t.Helper()
	require.NoError(r.t, util.WriteFile(r.FS, name, []byte(content), 0o644), "failed to write %s", name)
	_, err := r.wt.Add(name)
	require.NoError(r.t, err, "failed to stage %s", name)
}

// Modify overwrites a file in the worktree without staging it
func (r *Repo) Modify(name, content string) {
	r.t.Helper()
	require.NoError(r.t, util.WriteFile(r.FS, name, []byte(content), 0o644), "failed to write %s", name)
}

// Remove deletes a file from the worktree and stages the removal
func (r *Repo) Remove(name string) {
	r.t.Helper()
	_, err := r.wt.Remove(name)
	require.NoError(r.t, err, "failed to remove %s", name)
}

// Commit records the staged changes and returns the new commit hash
func (r *Repo) Commit(msg string) string {
	r.t.Helper()
	hash, err := r.wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@test.com", When: time.Now()},
	})
	require.NoError(r.t, err, "failed to commit")
	return hash.String()
}
