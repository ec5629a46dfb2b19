package transfer

import (
	"context"
	"io"
	"log/slog"
)

// DryRun logs mutating operations instead of performing them. Fetch reaches
// the target so that state resolution behaves exactly as in a real run.
type DryRun struct {
	Client
	logger *slog.Logger
}

// WithDryRun wraps c so that nothing is written or removed remotely
func WithDryRun(c Client, logger *slog.Logger) *DryRun {
	return &DryRun{Client: c, logger: logger}
}

func (d *DryRun) Upload(_ context.Context, remotePath string, _ io.Reader) error {
	d.logger.Info("[dry-run] would upload", "path", remotePath)
	return nil
}

func (d *DryRun) Remove(_ context.Context, remotePath string) error {
	d.logger.Info("[dry-run] would delete", "path", remotePath)
	return nil
}

func (d *DryRun) RemoveDirIfEmpty(_ context.Context, remotePath string) error {
	d.logger.Debug("[dry-run] would remove directory if empty", "path", remotePath)
	return nil
}
