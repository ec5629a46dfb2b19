package sync

import (
	"context"
	"path"
	"path/filepath"
	"testing"

	"github.com/schaermu/gitftp/internal/git"
	"github.com/schaermu/gitftp/internal/testutil"
	"github.com/schaermu/gitftp/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withNested mounts child at mount inside the parent repository.
type withNested struct {
	*git.Repository
	mount string
	child git.Client
}

func (w *withNested) NestedUnits() ([]string, error) { return []string{w.mount}, nil }

func (w *withNested) OpenNested(p string) (git.Client, error) {
	if path.Clean(p) != w.mount {
		return nil, git.ErrNestedUnitNotFound
	}
	return w.child, nil
}

func TestPush_NestedUnitInitializedOnFirstDeploy(t *testing.T) {
	ctx := context.Background()

	childTr := testutil.NewRepo(t)
	childTr.WriteFile("lib.js", "v1")
	childRev := childTr.Commit("lib")
	child, err := git.New(childTr.Repo, t.TempDir())
	require.NoError(t, err)

	f := newFixture(t)
	f.tr.WriteFile("index.html", "i")
	f.tr.WriteFile("vendor/lib/.keep", "")
	f.tr.Commit("first")
	repo := &withNested{Repository: f.repo, mount: "vendor/lib", child: child}

	res, err := NewEngine(repo, transfer.NewFileClient(f.remote), Options{}, testLogger()).Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded, "files below the mount belong to the nested unit")

	assert.Equal(t, "i", f.remoteFile("index.html"))
	assert.Equal(t, "v1", f.remoteFile("vendor/lib/lib.js"))
	assert.Equal(t, childRev+"\n", f.remoteFile("vendor/lib/"+MarkerFile))
	assert.NoFileExists(t, filepath.Join(f.remote, "vendor", "lib", ".keep"))

	// A later change in the nested unit is pushed incrementally.
	childTr.WriteFile("lib.js", "v2")
	childRev2 := childTr.Commit("lib v2")
	f.tr.WriteFile("vendor/lib/.keep", "bump")
	f.tr.Commit("bump submodule")

	_, err = NewEngine(repo, transfer.NewFileClient(f.remote), Options{}, testLogger()).Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", f.remoteFile("vendor/lib/lib.js"))
	assert.Equal(t, childRev2+"\n", f.remoteFile("vendor/lib/"+MarkerFile))
}

func TestPush_NestedFailureKeepsParentMarker(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.tr.WriteFile("index.html", "i")
	r1 := f.tr.Commit("first")
	_, err := f.engine(nil, Options{}).Init(ctx)
	require.NoError(t, err)

	f.tr.WriteFile("vendor/lib/.keep", "")
	f.tr.Commit("add submodule")
	broken := &brokenNested{withNested: &withNested{Repository: f.repo, mount: "vendor/lib"}}
	_, err = NewEngine(broken, transfer.NewFileClient(f.remote), Options{}, testLogger()).Push(ctx)
	require.Error(t, err)
	assert.Equal(t, KindGit, KindOf(err))
	assert.Equal(t, r1, f.marker())
}

type brokenNested struct {
	*withNested
}

func (b *brokenNested) OpenNested(string) (git.Client, error) {
	return nil, git.ErrNestedUnitNotFound
}
