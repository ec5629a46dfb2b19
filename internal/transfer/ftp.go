package transfer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"github.com/secsy/goftp"
)

// ftpFileUnavailable is the reply code for missing files and directories,
// and for directories that cannot be removed because they are not empty.
const ftpFileUnavailable = 550

// ftpConn is the subset of *goftp.Client the backend uses
type ftpConn interface {
	Mkdir(path string) (string, error)
	Store(path string, src io.Reader) error
	Retrieve(path string, dest io.Writer) error
	Delete(path string) error
	Rmdir(path string) error
	Close() error
}

// ftpClient serves ftp, ftps and ftpes targets
type ftpClient struct {
	conn   ftpConn
	target Target
	dirs   map[string]bool // directories known to exist
}

func dialFTP(target Target, creds Credentials, opts Options) (*ftpClient, error) {
	cfg := goftp.Config{
		User:               creds.User,
		Password:           creds.Password,
		ConnectionsPerHost: 1,
		Timeout:            opts.Timeout,
		ActiveTransfers:    opts.ActiveMode,
	}
	switch target.Protocol {
	case FTPS:
		cfg.TLSConfig = &tls.Config{ServerName: target.Host, InsecureSkipVerify: opts.Insecure} // #nosec G402 -- opt-in via --insecure
		cfg.TLSMode = goftp.TLSImplicit
	case FTPES:
		cfg.TLSConfig = &tls.Config{ServerName: target.Host, InsecureSkipVerify: opts.Insecure} // #nosec G402 -- opt-in via --insecure
		cfg.TLSMode = goftp.TLSExplicit
	}

	conn, err := goftp.DialConfig(cfg, target.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &ftpClient{conn: conn, target: target, dirs: make(map[string]bool)}, nil
}

func (c *ftpClient) Upload(ctx context.Context, remotePath string, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := c.target.Join(remotePath)
	c.mkdirAll(full)
	if err := c.conn.Store(full, content); err != nil {
		for _, dir := range parents(full) {
			delete(c.dirs, dir)
		}
		return fmt.Errorf("failed to upload %s: %w", full, err)
	}
	return nil
}

// mkdirAll creates the parent directories of p. Failures are ignored because
// FTP servers report existing directories as errors; a real problem surfaces
// when the file itself is stored. Only directories the server answered for
// are remembered.
func (c *ftpClient) mkdirAll(p string) {
	for _, dir := range parents(p) {
		if c.dirs[dir] {
			continue
		}
		if _, err := c.conn.Mkdir(dir); mkdirSettled(err) {
			c.dirs[dir] = true
		}
	}
}

func (c *ftpClient) Remove(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := c.target.Join(remotePath)
	if err := c.conn.Delete(full); err != nil {
		if isFTPUnavailable(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", full, err)
	}
	return nil
}

func (c *ftpClient) RemoveDirIfEmpty(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := c.target.Join(remotePath)
	if err := c.conn.Rmdir(full); err != nil {
		if isFTPUnavailable(err) {
			return nil
		}
		return fmt.Errorf("failed to remove directory %s: %w", full, err)
	}
	delete(c.dirs, full)
	return nil
}

func (c *ftpClient) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := c.target.Join(remotePath)
	var buf bytes.Buffer
	if err := c.conn.Retrieve(full, &buf); err != nil {
		if isFTPUnavailable(err) {
			return nil, fmt.Errorf("%s: %w", full, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download %s: %w", full, err)
	}
	return buf.Bytes(), nil
}

func (c *ftpClient) Close() error {
	return c.conn.Close()
}

// mkdirSettled reports whether MKD succeeded or got a permanent reply, which
// servers use for directories that already exist
func mkdirSettled(err error) bool {
	if err == nil {
		return true
	}
	var ftpErr goftp.Error
	return errors.As(err, &ftpErr) && ftpErr.Code() >= 500
}

func isFTPUnavailable(err error) bool {
	var ftpErr goftp.Error
	return errors.As(err, &ftpErr) && ftpErr.Code() == ftpFileUnavailable
}
