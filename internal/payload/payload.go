// Package payload implements the 64-bit watermark payload codec.
//
// A payload is 56 bits of metadata followed by an 8-bit CRC:
//
//	63      60 59          48 47        32 31          16 15     8 7       0
//	| schema  |   issuer    |   model    | model version | key id | checksum |
//
// The checksum is CRC-8 (polynomial 0x07, init 0, MSB first, no reflection,
// no final XOR) over the metadata as 7 big-endian bytes. Decoding never
// rejects a bad checksum; validity is reported in Payload.Valid.
package payload

import (
	"errors"
	"fmt"
)

const (
	// BodyBits is the number of bits in a tag body.
	BodyBits = 64

	// MetadataBytes is the length of the checksummed metadata block.
	MetadataBytes = 7

	crcPoly = 0x07

	maxSchemaVersion = 1<<4 - 1
	maxIssuerID      = 1<<12 - 1
)

var (
	// ErrMalformedPayload is returned when a bit sequence is not exactly
	// BodyBits long.
	ErrMalformedPayload = errors.New("payload: malformed payload")

	// ErrFieldRange is returned by Pack when a metadata field does not fit
	// its bit width.
	ErrFieldRange = errors.New("payload: field out of range")
)

// Metadata is the 56-bit provenance block carried by a tag.
type Metadata struct {
	SchemaVersion  uint8  `json:"schema_version"`
	IssuerID       uint16 `json:"issuer_id"`
	ModelID        uint16 `json:"model_id"`
	ModelVersionID uint16 `json:"model_version_id"`
	KeyID          uint8  `json:"key_id"`
}

// Payload is a decoded tag body.
type Payload struct {
	Metadata
	Raw      uint64 `json:"raw"`
	Checksum uint8  `json:"checksum"`
	Valid    bool   `json:"valid"`
}

// String renders the payload for logs and tooltips.
func (p Payload) String() string {
	state := "valid"
	if !p.Valid {
		state = "invalid"
	}
	return fmt.Sprintf("schema=%d issuer=%d model=%d version=%d key=%d crc=%#02x (%s)",
		p.SchemaVersion, p.IssuerID, p.ModelID, p.ModelVersionID, p.KeyID, p.Checksum, state)
}

// CRC8 computes CRC-8 with polynomial 0x07, initial value 0, MSB first,
// without reflection or final XOR.
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crcPoly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// metadataBytes returns the top 56 bits of raw as 7 big-endian bytes.
func metadataBytes(raw uint64) [MetadataBytes]byte {
	var b [MetadataBytes]byte
	meta := raw >> 8
	for i := MetadataBytes - 1; i >= 0; i-- {
		b[i] = byte(meta)
		meta >>= 8
	}
	return b
}

// Pack encodes m with its checksum into a 64-bit value.
func Pack(m Metadata) (uint64, error) {
	if m.SchemaVersion > maxSchemaVersion {
		return 0, fmt.Errorf("%w: schema version %d exceeds %d", ErrFieldRange, m.SchemaVersion, maxSchemaVersion)
	}
	if m.IssuerID > maxIssuerID {
		return 0, fmt.Errorf("%w: issuer id %d exceeds %d", ErrFieldRange, m.IssuerID, maxIssuerID)
	}

	meta := uint64(m.SchemaVersion)<<52 |
		uint64(m.IssuerID)<<40 |
		uint64(m.ModelID)<<24 |
		uint64(m.ModelVersionID)<<8 |
		uint64(m.KeyID)

	raw := meta << 8
	b := metadataBytes(raw)
	return raw | uint64(CRC8(b[:])), nil
}

// FromUint64 decodes a raw 64-bit value. It never fails.
func FromUint64(raw uint64) Payload {
	b := metadataBytes(raw)
	checksum := uint8(raw)
	return Payload{
		Metadata: Metadata{
			SchemaVersion:  uint8(raw >> 60 & 0xF),
			IssuerID:       uint16(raw >> 48 & 0xFFF),
			ModelID:        uint16(raw >> 32),
			ModelVersionID: uint16(raw >> 16),
			KeyID:          uint8(raw >> 8),
		},
		Raw:      raw,
		Checksum: checksum,
		Valid:    CRC8(b[:]) == checksum,
	}
}

// Decode decodes a tag body given most significant bit first. It fails only
// when bits is not exactly BodyBits long.
func Decode(bits []bool) (Payload, error) {
	if len(bits) != BodyBits {
		return Payload{}, fmt.Errorf("%w: got %d bits, want %d", ErrMalformedPayload, len(bits), BodyBits)
	}
	var raw uint64
	for _, bit := range bits {
		raw <<= 1
		if bit {
			raw |= 1
		}
	}
	return FromUint64(raw), nil
}

// Bits expands raw into BodyBits booleans, most significant bit first.
func Bits(raw uint64) []bool {
	bits := make([]bool, BodyBits)
	for i := range bits {
		bits[i] = raw>>(BodyBits-1-i)&1 == 1
	}
	return bits
}
