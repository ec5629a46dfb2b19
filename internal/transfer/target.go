package transfer

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Protocol is the wire protocol used to reach a target
type Protocol string

const (
	FTP   Protocol = "ftp"
	FTPS  Protocol = "ftps"  // FTP over implicit TLS
	FTPES Protocol = "ftpes" // FTP with an explicit TLS upgrade (AUTH TLS)
	SFTP  Protocol = "sftp"
	File  Protocol = "file"
)

// DefaultPort returns the well-known port of the protocol, 0 for file
func (p Protocol) DefaultPort() int {
	switch p {
	case FTP, FTPES:
		return 21
	case FTPS:
		return 990
	case SFTP:
		return 22
	}
	return 0
}

// Target is where a deployment goes. It is parsed once and immutable for the run.
type Target struct {
	Protocol Protocol
	Host     string
	Port     int
	// BasePath is absolute for sftp and file targets; for the FTP family it is
	// relative to the login directory unless the URL used a double slash.
	BasePath string
}

// ParseTarget parses a deployment URL. A URL without a scheme is treated as ftp.
// User information in the URL is ignored here; credentials are resolved by configuration.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "ftp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}

	t := Target{Protocol: Protocol(strings.ToLower(u.Scheme))}
	switch t.Protocol {
	case FTP, FTPS, FTPES, SFTP, File:
	default:
		return Target{}, fmt.Errorf("%q: %w", u.Scheme, ErrUnknownProtocol)
	}

	if t.Protocol == File {
		if u.Path == "" {
			return Target{}, fmt.Errorf("file url %q has no path", raw)
		}
		t.BasePath = path.Clean(u.Path)
		return t, nil
	}

	t.Host = u.Hostname()
	if t.Host == "" {
		return Target{}, fmt.Errorf("url %q has no host", raw)
	}
	t.Port = t.Protocol.DefaultPort()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Target{}, fmt.Errorf("invalid port %q", p)
		}
		t.Port = port
	}
	t.BasePath = basePath(t.Protocol, u.Path)
	return t, nil
}

// basePath normalizes the URL path. sftp paths are absolute unless they start
// with "/~/", which means relative to the login directory.
func basePath(p Protocol, urlPath string) string {
	if urlPath == "" || urlPath == "/" {
		if p == SFTP {
			return "/"
		}
		return ""
	}
	if p == SFTP {
		if rest, ok := strings.CutPrefix(urlPath, "/~/"); ok {
			if rest = path.Clean(rest); rest == "." {
				return ""
			}
			return rest
		}
		return path.Clean(urlPath)
	}
	// ftp://host//abs is absolute, ftp://host/rel is relative to the login dir.
	if strings.HasPrefix(urlPath, "//") {
		return path.Clean(urlPath[1:])
	}
	return strings.TrimPrefix(path.Clean(urlPath), "/")
}

// Addr returns host:port
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Join resolves a path relative to the target base
func (t Target) Join(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if t.BasePath == "" {
		return path.Clean(rel)
	}
	return path.Join(t.BasePath, rel)
}

// String renders the target without credentials
func (t Target) String() string {
	if t.Protocol == File {
		return "file://" + t.BasePath
	}
	p := t.BasePath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return fmt.Sprintf("%s://%s%s", t.Protocol, t.Addr(), p)
}
