package verification

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is the cause of every StatusUnavailable outcome: transport
// failures, non-2xx responses and responses that do not match the schema.
var ErrUnavailable = errors.New("verification: service unavailable")

// Status is the kind of answer a verification produced.
type Status int

const (
	StatusUnavailable Status = iota
	StatusVerified
	StatusNotVerified
)

func (s Status) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusNotVerified:
		return "not-verified"
	default:
		return "unavailable"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Provenance is the on-chain registration record returned for verified text.
type Provenance struct {
	Company         string `json:"company"`
	BlockNumber     int64  `json:"block_num"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"tx_hash"`
	IssuerID        int64  `json:"issuer_id,omitempty"`
	SHA256Hash      string `json:"sha256_hash,omitempty"`
	EthAddress      string `json:"eth_address,omitempty"`
}

// Outcome is the eventual result of a verification request.
type Outcome struct {
	Status     Status     `json:"status"`
	Provenance Provenance `json:"provenance"`
	Reason     string     `json:"reason,omitempty"`
	Cause      error      `json:"-"`
	RequestID  string     `json:"request_id,omitempty"`
}

// Unavailable builds an unavailable outcome whose cause wraps ErrUnavailable.
func Unavailable(format string, args ...any) Outcome {
	return Outcome{
		Status: StatusUnavailable,
		Cause:  fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...)),
	}
}

// Summary renders the outcome for display in a summary panel.
func (o Outcome) Summary() string {
	switch o.Status {
	case StatusVerified:
		var b strings.Builder
		fmt.Fprintf(&b, "Verified: %s, block #%d", o.Provenance.Company, o.Provenance.BlockNumber)
		if o.Provenance.Timestamp != "" {
			fmt.Fprintf(&b, " at %s", o.Provenance.Timestamp)
		}
		if o.Provenance.TransactionHash != "" {
			fmt.Fprintf(&b, " (tx %s)", shorten(o.Provenance.TransactionHash))
		}
		return b.String()
	case StatusNotVerified:
		return "Not verified: " + o.Reason
	default:
		if o.Cause != nil {
			return "Verification unavailable: " + o.Cause.Error()
		}
		return "Verification unavailable"
	}
}

func shorten(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:8] + "..." + h[len(h)-8:]
}
