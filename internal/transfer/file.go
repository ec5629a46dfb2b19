package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileClient deploys to a directory on the local filesystem
type FileClient struct {
	root string
}

// NewFileClient creates a client rooted at dir
func NewFileClient(dir string) *FileClient {
	return &FileClient{root: dir}
}

func (c *FileClient) resolve(remotePath string) string {
	return filepath.Join(c.root, filepath.FromSlash(filepath.Clean("/"+remotePath)))
}

// Upload writes content with an atomic rename
func (c *FileClient) Upload(ctx context.Context, remotePath string, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := c.resolve(remotePath)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", remotePath, err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".gitftp-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, content); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write %s: %w", remotePath, err)
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}

// Remove deletes a file; a missing file is not an error
func (c *FileClient) Remove(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(c.resolve(remotePath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", remotePath, err)
	}
	return nil
}

// RemoveDirIfEmpty removes a directory that has no entries left
func (c *FileClient) RemoveDirIfEmpty(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := c.resolve(remotePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory %s: %w", remotePath, err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove directory %s: %w", remotePath, err)
	}
	return nil
}

// Fetch reads a file
func (c *FileClient) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.resolve(remotePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", remotePath, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", remotePath, err)
	}
	return data, nil
}

// Close is a no-op
func (c *FileClient) Close() error {
	return nil
}
