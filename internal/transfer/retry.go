package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/schaermu/gitftp/internal/retry"
)

// Retrying retries uploads and downloads that fail for transport reasons.
// Deletions are not retried; their failures are warnings for the caller.
type Retrying struct {
	Client
	policy retry.Policy
	logger *slog.Logger
}

// WithRetry wraps c with the retry policy
func WithRetry(c Client, policy retry.Policy, logger *slog.Logger) *Retrying {
	return &Retrying{Client: c, policy: policy, logger: logger}
}

// Upload retries the upload, rewinding content between attempts
func (r *Retrying) Upload(ctx context.Context, remotePath string, content io.Reader) error {
	replay, err := replayable(content, r.policy.MaxRetries > 0)
	if err != nil {
		return fmt.Errorf("failed to read content for %s: %w", remotePath, err)
	}
	first := true
	return r.policy.Do(ctx, func() error {
		if !first {
			if _, err := replay.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		first = false
		return r.Client.Upload(ctx, remotePath, replay)
	}, retryable, func(n int, err error) {
		r.logger.Warn("upload failed, retrying", "path", remotePath, "retry", n, "max", r.policy.MaxRetries, "error", err)
	})
}

// Fetch retries downloads; a missing file is not retried
func (r *Retrying) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	var data []byte
	err := r.policy.Do(ctx, func() error {
		var err error
		data, err = r.Client.Fetch(ctx, remotePath)
		return err
	}, retryable, func(n int, err error) {
		r.logger.Warn("download failed, retrying", "path", remotePath, "retry", n, "max", r.policy.MaxRetries, "error", err)
	})
	return data, err
}

func retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// replayable returns a reader that can be rewound. Seekable content is used
// as is; anything else is buffered when retries are possible.
func replayable(r io.Reader, buffer bool) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	if !buffer {
		return &onceSeeker{Reader: r}, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// onceSeeker adapts a plain reader for a policy that never rewinds
type onceSeeker struct {
	io.Reader
}

func (o *onceSeeker) Seek(int64, int) (int64, error) {
	return 0, errors.New("content cannot be rewound")
}
