package git

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	"github.com/schaermu/gitftp/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*testutil.Repo, *Repository) {
	t.Helper()
	tr := testutil.NewRepo(t)
	repo, err := New(tr.Repo, t.TempDir())
	require.NoError(t, err)
	return tr, repo
}

func TestCurrentRevision_NoCommits(t *testing.T) {
	_, repo := newTestRepository(t)

	_, err := repo.CurrentRevision()
	assert.ErrorIs(t, err, ErrNoCommits)
}

func TestCurrentRevision(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("index.html", "hello")
	want := tr.Commit("initial")

	got, err := repo.CurrentRevision()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, repo.HasRevision(want))
	assert.False(t, repo.HasRevision("0123456789012345678901234567890123456789"))
	assert.False(t, repo.HasRevision(""))
}

func TestDiff(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("a.txt", "a1")
	tr.WriteFile("dir/c.txt", "c")
	tr.WriteFile("keep.txt", "k")
	r1 := tr.Commit("first")

	tr.WriteFile("a.txt", "a2")
	tr.Remove("dir/c.txt")
	tr.WriteFile("new.txt", "n")
	r2 := tr.Commit("second")

	changes, err := repo.Diff(r1, r2, "")
	require.NoError(t, err)

	assert.Equal(t, []Change{
		{Path: "a.txt", Action: Modify},
		{Path: "dir/c.txt", Action: Delete},
		{Path: "new.txt", Action: Insert},
	}, changes)
}

func TestDiff_Scoped(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("README.md", "r")
	r1 := tr.Commit("first")

	tr.WriteFile("public/index.html", "i")
	tr.WriteFile("README.md", "r2")
	r2 := tr.Commit("second")

	// The scope does not exist at r1; everything below it is an insert.
	changes, err := repo.Diff(r1, r2, "public/")
	require.NoError(t, err)
	assert.Equal(t, []Change{{Path: "index.html", Action: Insert}}, changes)
}

func TestDiff_UnknownRevision(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("a.txt", "a")
	r1 := tr.Commit("first")

	_, err := repo.Diff("89abcdef0123456789abcdef0123456789abcdef", r1, "")
	assert.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestListTrackedFiles(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("b.txt", "b")
	tr.WriteFile("a.txt", "a")
	tr.WriteFile("www/css/site.css", "css")
	tr.WriteFile("www/index.html", "i")
	tr.Commit("initial")

	files, err := repo.ListTrackedFiles("")
	require.NoError(t, err)
	assert.Equal(t, []File{
		{Path: "a.txt"},
		{Path: "b.txt"},
		{Path: "www/css/site.css"},
		{Path: "www/index.html"},
	}, files)

	files, err = repo.ListTrackedFiles("www")
	require.NoError(t, err)
	assert.Equal(t, []File{{Path: "css/site.css"}, {Path: "index.html"}}, files)

	files, err = repo.ListTrackedFiles("missing")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIsDirty(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("a.txt", "a")
	tr.Commit("initial")

	dirty, err := repo.IsDirty()
	require.NoError(t, err)
	assert.False(t, dirty)

	tr.Modify("untracked.txt", "u")
	dirty, err = repo.IsDirty()
	require.NoError(t, err)
	assert.False(t, dirty, "untracked files must not make the tree dirty")

	tr.Modify("a.txt", "changed")
	dirty, err = repo.IsDirty()
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestReadFile(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("dir/file.txt", "content")
	tr.Commit("initial")

	f, err := repo.ReadFile("dir/file.txt")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestNestedUnits_None(t *testing.T) {
	tr, repo := newTestRepository(t)
	tr.WriteFile("a.txt", "a")
	tr.Commit("initial")

	units, err := repo.NestedUnits()
	require.NoError(t, err)
	assert.Empty(t, units)

	_, err = repo.OpenNested("lib")
	assert.ErrorIs(t, err, ErrNestedUnitNotFound)
}

func TestOpen_NotRepository(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestOpen_DetectsParent(t *testing.T) {
	root := t.TempDir()
	_, err := gogit.PlainInit(root, false)
	require.NoError(t, err)
	sub := filepath.Join(root, "sub", "dir")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	repo, err := Open(sub)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".git"), repo.GitDir())
	assert.Equal(t, root, repo.Root())
}

func TestCleanScope(t *testing.T) {
	for in, want := range map[string]string{
		"":        "",
		".":       "",
		"/":       "",
		"public/": "public",
		"./a/b/":  "a/b",
		"/a/../b": "b",
	} {
		assert.Equal(t, want, cleanScope(in), "cleanScope(%q)", in)
	}
}
