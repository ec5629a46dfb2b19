package sync

import (
	"fmt"
	"strings"

	"github.com/schaermu/gitftp/internal/lock"
)

const (
	// MarkerFile holds the last deployed revision, relative to the target base path
	MarkerFile = ".git-ftp.log"
	// LockFile holds the remote deployment lock, relative to the target base path
	LockFile = "git-ftp.lck"
)

// Marker is the remote record of the last successful deployment
type Marker struct {
	Revision string
}

// ParseMarker decodes marker file content. Only the first line is significant.
func ParseMarker(data []byte) (Marker, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return Marker{}, fmt.Errorf("marker is empty")
	}
	return Marker{Revision: line}, nil
}

// Encode renders the marker file content
func (m Marker) Encode() []byte {
	return []byte(m.Revision + "\n")
}

// RemoteLock is the content of the remote lock file
type RemoteLock lock.Record

// ParseRemoteLock decodes "revision\nidentity"
func ParseRemoteLock(data []byte) (RemoteLock, error) {
	rev, identity, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return RemoteLock{}, fmt.Errorf("remote lock is empty")
	}
	return RemoteLock{Revision: rev, Identity: strings.TrimSpace(identity)}, nil
}

// Encode renders the lock file content
func (l RemoteLock) Encode() []byte {
	return []byte(l.Revision + "\n" + l.Identity + "\n")
}
