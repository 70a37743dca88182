package store

import (
	"time"

	"zwsentry/internal/payload"
)

// Preference keys.
const (
	PrefMode = "mode"
)

// ScanRecord summarises one completed scan. The text itself is never
// stored, only its SHA-256 digest.
type ScanRecord struct {
	ID             int64
	CreatedAt      time.Time
	Source         string
	TextHash       string
	Verdict        string
	Reason         string
	ZeroWidthCount int
	ValidTags      int
	InvalidTags    int
	// Metadata is the first valid payload found, if any.
	Metadata *payload.Metadata
}

// VerificationRecord summarises one verification call.
type VerificationRecord struct {
	ID          int64
	CreatedAt   time.Time
	TextHash    string
	Status      string
	Company     string
	BlockNumber int64
	TxHash      string
	Reason      string
	RequestID   string
}
