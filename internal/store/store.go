// Package store persists the process-wide mode and a short history of scans
// and verifications for zwsentry.
//
// Two backends implement Store: SQLite (github.com/mattn/go-sqlite3) for the
// CLI and daemon, and an in-memory map for tests and --ephemeral runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"zwsentry/internal/host"
)

// ErrNotFound is returned when a preference or record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence port.
type Store interface {
	host.ModeStore

	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error

	RecordScan(ctx context.Context, r *ScanRecord) (int64, error)
	RecentScans(ctx context.Context, limit int) ([]ScanRecord, error)

	RecordVerification(ctx context.Context, r *VerificationRecord) (int64, error)
	RecentVerifications(ctx context.Context, limit int) ([]VerificationRecord, error)
	LastVerification(ctx context.Context, textHash string) (*VerificationRecord, error)

	// Prune keeps only the newest keep rows of each history table.
	Prune(ctx context.Context, keep int) error

	Close() error
}

// Open returns the backend named by typ: "sqlite" (path required) or
// "memory".
func Open(typ, path string, opts ...Option) (Store, error) {
	switch typ {
	case "sqlite", "":
		return OpenSQLite(path, opts...)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", typ)
	}
}

func getMode(ctx context.Context, s Store) (host.Mode, error) {
	v, err := s.GetPreference(ctx, PrefMode)
	if err != nil {
		return host.ModeOff, err
	}
	m, err := host.ParseMode(v)
	if err != nil {
		return host.ModeOff, fmt.Errorf("stored mode: %w", err)
	}
	return m, nil
}

func setMode(ctx context.Context, s Store, m host.Mode) (host.Mode, error) {
	if err := s.SetPreference(ctx, PrefMode, m.String()); err != nil {
		return host.ModeOff, err
	}
	return m, nil
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Memory)(nil)
)
