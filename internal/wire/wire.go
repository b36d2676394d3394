// Package wire implements the Facet batch wire format from SPEC_FULL.md §6:
// a fixed magic prefix, a big-endian length, and an RLP payload. Framing
// uses github.com/ethereum/go-ethereum/rlp exactly the way
// core/types/transaction_signing_rollup.go builds its own RLP-hashed
// signing payloads in the teacher.
package wire

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Role is always FORCED (empty bytes) in this spec; priority batches are
// reserved by the wire format but out of scope (spec.md §9).
var RoleForced = []byte{}

// BatchData is the canonical RLP tuple framed for L1 commitment.
type BatchData struct {
	Version       uint8
	ChainID       *big.Int
	Role          []byte
	TargetL1Block uint64
	Transactions  [][]byte
	ExtraData     []byte
}

// ContentHash is keccak256(rlp(BatchData)), the batch's unique identity
// (spec.md §3, §4.3).
func ContentHash(b BatchData) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(b)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wire: encode batch data: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Encode produces the wire_format handed to the Poster:
// MAGIC_PREFIX (8 bytes) || uint32_be(len(rlp(outer))) || rlp([BatchData]).
func Encode(magicPrefix [8]byte, b BatchData) ([]byte, error) {
	outerEnc, err := rlp.EncodeToBytes([]BatchData{b})
	if err != nil {
		return nil, fmt.Errorf("wire: encode outer envelope: %w", err)
	}
	if len(outerEnc) > 0xFFFFFFFF {
		return nil, fmt.Errorf("wire: payload too large: %d bytes", len(outerEnc))
	}

	out := make([]byte, 0, 8+4+len(outerEnc))
	out = append(out, magicPrefix[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(outerEnc)))
	out = append(out, lenBuf[:]...)
	out = append(out, outerEnc...)
	return out, nil
}

// Decode strips MAGIC_PREFIX, reads LENGTH, and RLP-decodes the payload back
// into the original BatchData, the round-trip property required by
// spec.md §8.
func Decode(magicPrefix [8]byte, data []byte) (BatchData, error) {
	if len(data) < 12 {
		return BatchData{}, fmt.Errorf("wire: payload too short: %d bytes", len(data))
	}
	var gotPrefix [8]byte
	copy(gotPrefix[:], data[:8])
	if gotPrefix != magicPrefix {
		return BatchData{}, fmt.Errorf("wire: magic prefix mismatch: got %x want %x", gotPrefix, magicPrefix)
	}
	length := binary.BigEndian.Uint32(data[8:12])
	payload := data[12:]
	if uint32(len(payload)) < length {
		return BatchData{}, fmt.Errorf("wire: truncated payload: have %d want %d", len(payload), length)
	}
	payload = payload[:length]

	var outer []BatchData
	if err := rlp.DecodeBytes(payload, &outer); err != nil {
		return BatchData{}, fmt.Errorf("wire: decode outer envelope: %w", err)
	}
	if len(outer) != 1 {
		return BatchData{}, fmt.Errorf("wire: expected exactly one batch in envelope, got %d", len(outer))
	}
	return outer[0], nil
}

// ScanForMagicPrefix reports the offset of the first occurrence of
// magicPrefix in data, or -1. Used by L1-scanning consumers to locate Facet
// batch payloads within an arbitrary L1 transaction's calldata.
func ScanForMagicPrefix(magicPrefix [8]byte, data []byte) int {
	if len(data) < 8 {
		return -1
	}
	for i := 0; i+8 <= len(data); i++ {
		if [8]byte(data[i:i+8]) == magicPrefix {
			return i
		}
	}
	return -1
}
