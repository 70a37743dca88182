package store

import (
	"context"
	"sync"
	"time"

	"zwsentry/internal/host"
)

// Memory is an in-process Store. Nothing survives the process.
type Memory struct {
	mu            sync.RWMutex
	prefs         map[string]string
	scans         []ScanRecord
	verifications []VerificationRecord
	nextID        int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{prefs: make(map[string]string)}
}

func (m *Memory) GetMode(ctx context.Context) (host.Mode, error) {
	return getMode(ctx, m)
}

func (m *Memory) SetMode(ctx context.Context, mode host.Mode) (host.Mode, error) {
	return setMode(ctx, m, mode)
}

func (m *Memory) GetPreference(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.prefs[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetPreference(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[key] = value
	return nil
}

func (m *Memory) RecordScan(ctx context.Context, r *ScanRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	rec := *r
	if r.Metadata != nil {
		meta := *r.Metadata
		rec.Metadata = &meta
	}
	m.scans = append(m.scans, rec)
	return r.ID, nil
}

func (m *Memory) RecentScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.scans, limit), nil
}

func (m *Memory) RecordVerification(ctx context.Context, r *VerificationRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.verifications = append(m.verifications, *r)
	return r.ID, nil
}

func (m *Memory) RecentVerifications(ctx context.Context, limit int) ([]VerificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.verifications, limit), nil
}

func (m *Memory) LastVerification(ctx context.Context, textHash string) (*VerificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.verifications) - 1; i >= 0; i-- {
		if m.verifications[i].TextHash == textHash {
			r := m.verifications[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.scans); n > keep {
		m.scans = append([]ScanRecord(nil), m.scans[n-keep:]...)
	}
	if n := len(m.verifications); n > keep {
		m.verifications = append([]VerificationRecord(nil), m.verifications[n-keep:]...)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

func newestFirst[T any](in []T, limit int) []T {
	n := len(in)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(in) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, in[i])
	}
	return out
}
