package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/schaermu/gitftp/internal/lock"
	"github.com/schaermu/gitftp/internal/transfer"
)

// Store reads and writes the marker and lock files on the target. No other
// component touches those paths.
type Store struct {
	client transfer.Client
}

// NewStore creates a store on top of a transfer client
func NewStore(client transfer.Client) *Store {
	return &Store{client: client}
}

// ReadMarker returns the deployed revision, or ErrMarkerNotFound for a target
// that was never deployed to.
func (s *Store) ReadMarker(ctx context.Context) (string, error) {
	data, err := s.client.Fetch(ctx, MarkerFile)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return "", ErrMarkerNotFound
		}
		return "", fmt.Errorf("failed to download %s: %w", MarkerFile, err)
	}
	m, err := ParseMarker(data)
	if err != nil {
		return "", ErrMarkerNotFound
	}
	return m.Revision, nil
}

// WriteMarker records rev as deployed
func (s *Store) WriteMarker(ctx context.Context, rev string) error {
	if err := s.client.Upload(ctx, MarkerFile, bytes.NewReader(Marker{Revision: rev}.Encode())); err != nil {
		return fmt.Errorf("failed to upload %s: %w", MarkerFile, err)
	}
	return nil
}

// ReadLock implements lock.Store
func (s *Store) ReadLock(ctx context.Context) (lock.Record, error) {
	data, err := s.client.Fetch(ctx, LockFile)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return lock.Record{}, lock.ErrNotLocked
		}
		return lock.Record{}, fmt.Errorf("failed to download %s: %w", LockFile, err)
	}
	l, err := ParseRemoteLock(data)
	if err != nil {
		return lock.Record{}, lock.ErrNotLocked
	}
	return lock.Record(l), nil
}

// WriteLock implements lock.Store
func (s *Store) WriteLock(ctx context.Context, rec lock.Record) error {
	if err := s.client.Upload(ctx, LockFile, bytes.NewReader(RemoteLock(rec).Encode())); err != nil {
		return fmt.Errorf("failed to upload %s: %w", LockFile, err)
	}
	return nil
}

// ClearLock implements lock.Store
func (s *Store) ClearLock(ctx context.Context) error {
	return s.client.Remove(ctx, LockFile)
}
