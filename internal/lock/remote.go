package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ErrNotLocked is returned by a Store when no remote lock file exists
var ErrNotLocked = errors.New("remote lock not present")

// Record is the content of the remote lock file
type Record struct {
	Revision string
	Identity string
}

// Store persists the remote lock record on the target
type Store interface {
	ReadLock(ctx context.Context) (Record, error)
	WriteLock(ctx context.Context, rec Record) error
	ClearLock(ctx context.Context) error
}

// ConflictError reports a remote lock held for a different revision
type ConflictError struct {
	Identity string
	Revision string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote is locked by %s (revision %s)", e.Identity, e.Revision)
}

// Remote is the advisory deployment lock stored next to the marker. When
// disabled every operation is a no-op.
type Remote struct {
	store    Store
	enabled  bool
	identity string
	logger   *slog.Logger
}

// NewRemote creates a remote lock manager
func NewRemote(store Store, enabled bool, identity string, logger *slog.Logger) *Remote {
	return &Remote{store: store, enabled: enabled, identity: identity, logger: logger}
}

// Enabled reports whether remote locking is active for this run
func (r *Remote) Enabled() bool {
	return r.enabled
}

// Check fails with a *ConflictError when a lock exists for a revision other
// than localRev, unless force is set.
func (r *Remote) Check(ctx context.Context, localRev string, force bool) error {
	if !r.enabled {
		return nil
	}
	rec, err := r.store.ReadLock(ctx)
	if err != nil {
		if errors.Is(err, ErrNotLocked) {
			return nil
		}
		return fmt.Errorf("failed to read remote lock: %w", err)
	}
	if rec.Revision == localRev {
		r.logger.Debug("remote lock matches local revision", "revision", localRev, "identity", rec.Identity)
		return nil
	}
	if force {
		r.logger.Warn("ignoring remote lock", "identity", rec.Identity, "revision", rec.Revision)
		return nil
	}
	return &ConflictError{Identity: rec.Identity, Revision: rec.Revision}
}

// Set writes the lock for rev
func (r *Remote) Set(ctx context.Context, rev string) error {
	if !r.enabled {
		return nil
	}
	r.logger.Debug("setting remote lock", "revision", rev, "identity", r.identity)
	if err := r.store.WriteLock(ctx, Record{Revision: rev, Identity: r.identity}); err != nil {
		return fmt.Errorf("failed to set remote lock: %w", err)
	}
	return nil
}

// Clear removes the lock. A missing lock file is not an error.
func (r *Remote) Clear(ctx context.Context) error {
	if !r.enabled {
		return nil
	}
	r.logger.Debug("clearing remote lock")
	if err := r.store.ClearLock(ctx); err != nil {
		return fmt.Errorf("failed to clear remote lock: %w", err)
	}
	return nil
}

// Identity describes who holds a lock: user@host and an RFC 3339 timestamp
func Identity(user string, now time.Time) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s@%s %s", user, host, now.UTC().Format(time.RFC3339))
}
