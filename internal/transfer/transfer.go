package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"
)

var (
	// ErrNotFound is returned by Fetch when the remote file does not exist
	ErrNotFound = errors.New("remote file not found")
	// ErrUnknownProtocol is returned for URLs with an unsupported scheme
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// Client is the protocol-agnostic transfer contract. Paths are relative to
// the target base path.
type Client interface {
	// Upload writes content to remotePath, creating intermediate directories
	Upload(ctx context.Context, remotePath string, content io.Reader) error
	// Remove deletes a file; a file that is already gone is not an error
	Remove(ctx context.Context, remotePath string) error
	// RemoveDirIfEmpty removes a directory unless it still has entries
	RemoveDirIfEmpty(ctx context.Context, remotePath string) error
	// Fetch reads a file, returning ErrNotFound when it does not exist
	Fetch(ctx context.Context, remotePath string) ([]byte, error)
	// Close releases the connection
	Close() error
}

// Credentials authenticate against the target
type Credentials struct {
	User     string
	Password string
	// KeyFile is a private key for sftp; Password doubles as its passphrase
	KeyFile string
}

// Options tune the backend connection
type Options struct {
	ActiveMode     bool          // FTP active mode
	Insecure       bool          // skip TLS certificate / SSH host key verification
	KnownHostsFile string        // sftp known_hosts, defaults to ~/.ssh/known_hosts
	Timeout        time.Duration // connect and I/O timeout
}

// Dial builds the backend for the target protocol
func Dial(ctx context.Context, target Target, creds Credentials, opts Options) (Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	switch target.Protocol {
	case FTP, FTPS, FTPES:
		c, err := dialFTP(target, creds, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case SFTP:
		c, err := dialSFTP(ctx, target, creds, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case File:
		return NewFileClient(target.BasePath), nil
	}
	return nil, fmt.Errorf("%q: %w", target.Protocol, ErrUnknownProtocol)
}

// Sub scopes c to a subdirectory. The returned client shares the connection;
// closing it is a no-op.
func Sub(c Client, dir string) Client {
	return &subClient{c: c, dir: dir}
}

type subClient struct {
	c   Client
	dir string
}

func (s *subClient) join(p string) string { return path.Join(s.dir, p) }

func (s *subClient) Upload(ctx context.Context, p string, r io.Reader) error {
	return s.c.Upload(ctx, s.join(p), r)
}

func (s *subClient) Remove(ctx context.Context, p string) error {
	return s.c.Remove(ctx, s.join(p))
}

func (s *subClient) RemoveDirIfEmpty(ctx context.Context, p string) error {
	return s.c.RemoveDirIfEmpty(ctx, s.join(p))
}

func (s *subClient) Fetch(ctx context.Context, p string) ([]byte, error) {
	return s.c.Fetch(ctx, s.join(p))
}

func (s *subClient) Close() error { return nil }

// parents returns the ancestor directories of p, outermost first
func parents(p string) []string {
	var dirs []string
	for dir := path.Dir(p); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		dirs = append([]string{dir}, dirs...)
	}
	return dirs
}
