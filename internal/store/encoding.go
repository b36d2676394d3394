package store

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// uint256Width is wide enough to hold any uint256 value's decimal form
// (2^256-1 has 78 digits); zero-padding to a fixed width lets SQLite's
// lexical ORDER BY agree with numeric order without a native 256-bit type.
const uint256Width = 78

func encodeUint256(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%0*s", uint256Width, v.Dec())
}

func decodeUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("store: decode uint256 %q: %w", s, err)
	}
	return v, nil
}

func nullableHash(h *common.Hash) any {
	if h == nil {
		return nil
	}
	return h.Hex()
}

func parseHashPtr(s *string) *common.Hash {
	if s == nil {
		return nil
	}
	h := common.HexToHash(*s)
	return &h
}
