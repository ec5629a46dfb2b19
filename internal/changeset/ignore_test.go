package changeset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreList(t *testing.T) {
	l, err := ParseIgnore(strings.NewReader("# build output\n\n*.log\n/config.php\nnode_modules/\n!keep.log\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"*.log", "/config.php", "node_modules/", "!keep.log"}, l.Patterns())

	for _, p := range []string{"debug.log", "logs/app.log", "config.php", "node_modules/x/index.js", IgnoreFile, IncludeFile} {
		assert.True(t, l.Match(p), "expected %q to be ignored", p)
	}
	for _, p := range []string{"keep.log", "sub/config.php", "src/app.js", "docs/" + IgnoreFile + ".md"} {
		assert.False(t, l.Match(p), "expected %q to be kept", p)
	}
}

func TestIgnoreList_Nil(t *testing.T) {
	var l *IgnoreList
	assert.False(t, l.Match("anything"))
}
