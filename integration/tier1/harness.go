//go:build integration

package tier1

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the gitftp binary once and runs it against scratch
// repositories and a file:// target
type Harness struct {
	t      *testing.T
	binary string
	env    []string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	home := t.TempDir()
	return &Harness{
		t: t,
		env: append(os.Environ(),
			"HOME="+home,
			"GIT_CONFIG_NOSYSTEM=1",
			"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@test.com",
			// local submodule remotes
			"GIT_ALLOW_PROTOCOL=file",
		),
	}
}

// BuildBinary compiles cmd/gitftp into a temporary directory
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	// Get absolute path to project root by finding go.mod
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.t.TempDir(), "gitftp")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/gitftp")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Git runs git in dir and fails the test on error
func (h *Harness) Git(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = h.env
	out, err := cmd.CombinedOutput()
	if err != nil {
		h.t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// NewRepo initializes a repository with the given files committed
func (h *Harness) NewRepo(ctx context.Context, files map[string]string) string {
	h.t.Helper()
	dir := h.t.TempDir()
	h.Git(ctx, dir, "init", "-q", "-b", "main")
	h.Commit(ctx, dir, files, "initial")
	return dir
}

// Commit writes files (empty content deletes) and commits them, returning HEAD
func (h *Harness) Commit(ctx context.Context, dir string, files map[string]string, msg string) string {
	h.t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if content == "" {
			h.Git(ctx, dir, "rm", "-q", name)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			h.t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			h.t.Fatal(err)
		}
		h.Git(ctx, dir, "add", name)
	}
	h.Git(ctx, dir, "commit", "-q", "-m", msg)
	return h.Git(ctx, dir, "rev-parse", "HEAD")
}

// Run executes gitftp in dir and returns combined output and exit code
func (h *Harness) Run(ctx context.Context, dir string, args ...string) (string, int) {
	h.t.Helper()
	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = dir
	cmd.Env = h.env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out.String(), 0
	case errors.As(err, &exitErr):
		return out.String(), exitErr.ExitCode()
	default:
		h.t.Fatalf("run gitftp: %v", err)
		return "", -1
	}
}

// MustRun runs gitftp and fails the test unless it exits with 0
func (h *Harness) MustRun(ctx context.Context, dir string, args ...string) string {
	h.t.Helper()
	out, code := h.Run(ctx, dir, args...)
	if code != 0 {
		h.t.Fatalf("gitftp %s exited with %d:\n%s", strings.Join(args, " "), code, out)
	}
	return out
}

// ReadFile reads a file from the target, empty when missing
func (h *Harness) ReadFile(root, name string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		return ""
	}
	return string(data)
}

// FileExists reports whether name exists below root
func (h *Harness) FileExists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
	return err == nil
}

// testWriter adapts testing.T to io.Writer
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(strings.TrimRight(string(p), "\n"), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

func findProjectRoot() (string, error) {
	// Get the directory of this source file
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	// Walk up the directory tree looking for go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root without finding go.mod
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
