package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpClient serves sftp targets. Paths are absolute on the server.
type sftpClient struct {
	ssh    *ssh.Client
	conn   *sftp.Client
	target Target
}

func dialSFTP(ctx context.Context, target Target, creds Credentials, opts Options) (*sftpClient, error) {
	auth, err := sshAuth(creds)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         opts.Timeout,
	}

	d := net.Dialer{Timeout: opts.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(netConn, target.Addr(), cfg)
	if err != nil {
		_ = netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", target, err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	conn, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("failed to start sftp session: %w", err)
	}
	return &sftpClient{ssh: sshClient, conn: conn, target: target}, nil
}

func sshAuth(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.KeyFile != "" {
		key, err := os.ReadFile(creds.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) && creds.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(creds.Password))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("sftp requires a password or a key file")
	}
	return methods, nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil // #nosec G106 -- opt-in via --insecure
	}
	file := opts.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return cb, nil
}

// Upload writes to a temporary sibling and renames it into place so readers
// never see a partially written file.
func (c *sftpClient) Upload(ctx context.Context, remotePath string, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := c.target.Join(remotePath)
	dir := path.Dir(full)
	if err := c.conn.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := path.Join(dir, "."+path.Base(full)+"."+uuid.NewString()+".part")
	f, err := c.conn.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = c.conn.Remove(tmp)
		return fmt.Errorf("failed to upload %s: %w", full, err)
	}
	if err := f.Close(); err != nil {
		_ = c.conn.Remove(tmp)
		return fmt.Errorf("failed to upload %s: %w", full, err)
	}

	if err := c.conn.PosixRename(tmp, full); err != nil {
		// Servers without the posix-rename extension refuse to overwrite.
		_ = c.conn.Remove(full)
		if err := c.conn.Rename(tmp, full); err != nil {
			_ = c.conn.Remove(tmp)
			return fmt.Errorf("failed to move %s into place: %w", full, err)
		}
	}
	return nil
}

func (c *sftpClient) Remove(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := c.target.Join(remotePath)
	if err := c.conn.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", full, err)
	}
	return nil
}

func (c *sftpClient) RemoveDirIfEmpty(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := c.target.Join(remotePath)
	if err := c.conn.RemoveDirectory(full); err != nil && !isSFTPDirKept(err) {
		return fmt.Errorf("failed to remove directory %s: %w", full, err)
	}
	return nil
}

// isSFTPDirKept reports whether a failed rmdir means the directory is gone or
// still has entries. Servers report a non-empty directory as a generic failure.
func isSFTPDirKept(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var status *sftp.StatusError
	return errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxFailure
}

func (c *sftpClient) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := c.target.Join(remotePath)
	f, err := c.conn.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", full, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open %s: %w", full, err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", full, err)
	}
	return data, nil
}

func (c *sftpClient) Close() error {
	err := c.conn.Close()
	if c.ssh == nil {
		return err
	}
	if sshErr := c.ssh.Close(); err == nil {
		err = sshErr
	}
	return err
}
