package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned when another live process holds the local lock
var ErrAlreadyRunning = errors.New("another deployment is already running for this repository")

// Local is a PID lock file scoped to one local clone
type Local struct {
	path     string
	released bool
}

// staleGrace is how long an unreadable lock file is still considered held
const staleGrace = 10 * time.Second

// AcquireLocal creates the lock file at path holding the current PID. A lock
// left behind by a process that no longer exists is reclaimed.
func AcquireLocal(path string) (*Local, error) {
	tmp, err := writeTemp(path, os.Getpid())
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = os.Remove(tmp)
	}()

	for attempt := 0; attempt < 2; attempt++ {
		// link fails if path exists and publishes the file with its PID already written
		err := os.Link(tmp, path)
		if err == nil {
			return &Local{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		holder, ok := readPID(path)
		if ok && processAlive(holder) {
			return nil, fmt.Errorf("pid %d: %w", holder, ErrAlreadyRunning)
		}
		if !ok && recentlyModified(path) {
			return nil, fmt.Errorf("unreadable lock file %s: %w", path, ErrAlreadyRunning)
		}
		// stale
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock file %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("failed to acquire lock file %s: %w", path, ErrAlreadyRunning)
}

func writeTemp(path string, pid int) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create lock file %s: %w", path, err)
	}
	_, werr := f.WriteString(strconv.Itoa(pid) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write lock file %s: %w", path, errors.Join(werr, cerr))
	}
	return f.Name(), nil
}

func recentlyModified(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < staleGrace
}

// Release removes the lock file. Calling it more than once is safe.
func (l *Local) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive checks pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
