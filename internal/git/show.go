package git

import (
	"context"
	"fmt"
	"io"
	"os/exec"
)

// ShowRevision hands rev to `git show` in dir, streaming its output to w.
// This is the external viewer for the deployed revision.
func ShowRevision(ctx context.Context, dir, rev string, w io.Writer) error {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "show", "--stat", rev)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git show %s failed: %w", rev, err)
	}
	return nil
}
