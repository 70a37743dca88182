package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"zwsentry/internal/host"
	"zwsentry/internal/payload"
)

// Option configures the SQLite backend.
type Option func(*sqliteOptions)

type sqliteOptions struct {
	busyTimeoutMs int
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(ms int) Option {
	return func(o *sqliteOptions) {
		o.busyTimeoutMs = ms
	}
}

// SQLite is the SQLite-backed Store.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and runs migrations.
// The file is restricted to its owner.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: database path is required")
	}
	o := sqliteOptions{busyTimeoutMs: 5000}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, o.busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// DB exposes the underlying handle for migration tooling.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetMode implements host.ModeStore. ErrNotFound means no mode was ever
// persisted.
func (s *SQLite) GetMode(ctx context.Context) (host.Mode, error) {
	return getMode(ctx, s)
}

// SetMode implements host.ModeStore.
func (s *SQLite) SetMode(ctx context.Context, m host.Mode) (host.Mode, error) {
	return setMode(ctx, s, m)
}

// GetPreference returns the stored value for key.
func (s *SQLite) GetPreference(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get preference %s: %w", key, err)
	}
	return v, nil
}

// SetPreference stores value under key.
func (s *SQLite) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

// RecordScan inserts a scan summary and returns its ID.
func (s *SQLite) RecordScan(ctx context.Context, r *ScanRecord) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var meta sql.NullString
	if r.Metadata != nil {
		data, err := json.Marshal(r.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata: %w", err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (created_at, source, text_hash, verdict, reason, zero_width_count, valid_tags, invalid_tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.UnixNano(), r.Source, r.TextHash, r.Verdict, r.Reason, r.ZeroWidthCount, r.ValidTags, r.InvalidTags, meta,
	)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// RecentScans returns up to limit scans, newest first.
func (s *SQLite) RecentScans(ctx context.Context, limit int) ([]ScanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, source, text_hash, verdict, reason, zero_width_count, valid_tags, invalid_tags, metadata
		FROM scans
		ORDER BY id DESC
		LIMIT ?`, limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var r ScanRecord
		var createdAt int64
		var meta sql.NullString
		if err := rows.Scan(&r.ID, &createdAt, &r.Source, &r.TextHash, &r.Verdict, &r.Reason,
			&r.ZeroWidthCount, &r.ValidTags, &r.InvalidTags, &meta); err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt)
		if meta.Valid {
			r.Metadata = new(payload.Metadata)
			if err := json.Unmarshal([]byte(meta.String), r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return out, nil
}

// RecordVerification inserts a verification summary and returns its ID.
func (s *SQLite) RecordVerification(ctx context.Context, r *VerificationRecord) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (created_at, text_hash, status, company, block_num, tx_hash, reason, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.UnixNano(), r.TextHash, r.Status, r.Company, r.BlockNumber, r.TxHash, r.Reason, r.RequestID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert verification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

const verificationColumns = `id, created_at, text_hash, status, company, block_num, tx_hash, reason, request_id`

// RecentVerifications returns up to limit verifications, newest first.
func (s *SQLite) RecentVerifications(ctx context.Context, limit int) ([]VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+verificationColumns+`
		FROM verifications
		ORDER BY id DESC
		LIMIT ?`, limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query verifications: %w", err)
	}
	defer rows.Close()

	var out []VerificationRecord
	for rows.Next() {
		r, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}

// LastVerification returns the newest verification of the text with the
// given digest.
func (s *SQLite) LastVerification(ctx context.Context, textHash string) (*VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+verificationColumns+`
		FROM verifications
		WHERE text_hash = ?
		ORDER BY id DESC
		LIMIT 1`, textHash,
	)
	r, err := scanVerification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerification(row rowScanner) (*VerificationRecord, error) {
	var r VerificationRecord
	var createdAt int64
	var company, txHash, reason, requestID sql.NullString
	var blockNum sql.NullInt64
	if err := row.Scan(&r.ID, &createdAt, &r.TextHash, &r.Status, &company, &blockNum, &txHash, &reason, &requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan verification: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdAt)
	r.Company = company.String
	r.BlockNumber = blockNum.Int64
	r.TxHash = txHash.String
	r.Reason = reason.String
	r.RequestID = requestID.String
	return &r, nil
}

// Prune keeps only the newest keep rows of each history table. A keep of
// zero or less leaves everything in place.
func (s *SQLite) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"scans", "verifications"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT ?)`, table, table)
		if _, err := tx.ExecContext(ctx, q, keep); err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
