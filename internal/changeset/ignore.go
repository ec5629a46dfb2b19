package changeset

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// IgnoreFile is the name of the per-repository ignore list
const IgnoreFile = ".git-ftp-ignore"

// IncludeFile is the name of the per-repository include list; it is never deployed
const IncludeFile = ".git-ftp-include"

// IgnoreList decides which paths are never uploaded nor deleted.
// Patterns follow gitignore glob semantics and are matched against paths
// relative to the sync root.
type IgnoreList struct {
	patterns []string
	matcher  gitignore.Matcher
}

// NewIgnoreList builds a list from raw patterns. Blank lines and lines
// starting with '#' are skipped. The tool's own control files are always ignored.
func NewIgnoreList(patterns ...string) *IgnoreList {
	l := &IgnoreList{}
	parsed := []gitignore.Pattern{
		gitignore.ParsePattern("/"+IgnoreFile, nil),
		gitignore.ParsePattern("/"+IncludeFile, nil),
	}
	for _, p := range patterns {
		p = strings.TrimRight(p, " \t\r")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		l.patterns = append(l.patterns, p)
		parsed = append(parsed, gitignore.ParsePattern(p, nil))
	}
	l.matcher = gitignore.NewMatcher(parsed)
	return l
}

// ParseIgnore reads an ignore list, one pattern per line
func ParseIgnore(r io.Reader) (*IgnoreList, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}
	return NewIgnoreList(lines...), nil
}

// Patterns returns the effective user patterns
func (l *IgnoreList) Patterns() []string {
	return append([]string(nil), l.patterns...)
}

// Match reports whether path is ignored
func (l *IgnoreList) Match(path string) bool {
	if l == nil {
		return false
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	return l.matcher.Match(parts, false)
}
