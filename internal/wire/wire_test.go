package wire

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

var testMagic = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x23, 0x45}

func sampleBatch() BatchData {
	return BatchData{
		Version:       1,
		ChainID:       big.NewInt(0xface7),
		Role:          RoleForced,
		TargetL1Block: 12345,
		Transactions:  [][]byte{{0x01, 0x02, 0x03}, {0xaa, 0xbb}},
		ExtraData:     []byte{},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := sampleBatch()
	encoded, err := Encode(testMagic, b)
	require.NoError(t, err)

	decoded, err := Decode(testMagic, encoded)
	require.NoError(t, err)
	require.Equal(t, b.Version, decoded.Version)
	require.Equal(t, 0, b.ChainID.Cmp(decoded.ChainID))
	require.Equal(t, b.Role, decoded.Role)
	require.Equal(t, b.TargetL1Block, decoded.TargetL1Block)
	require.Equal(t, b.Transactions, decoded.Transactions)
	require.Equal(t, b.ExtraData, decoded.ExtraData)
}

func TestEncodeFraming(t *testing.T) {
	b := sampleBatch()
	encoded, err := Encode(testMagic, b)
	require.NoError(t, err)
	require.Equal(t, testMagic[:], encoded[:8])

	offset := ScanForMagicPrefix(testMagic, append([]byte{0xde, 0xad}, encoded...))
	require.Equal(t, 2, offset)
}

func TestDecodeRejectsWrongMagic(t *testing.T) {
	b := sampleBatch()
	encoded, err := Encode(testMagic, b)
	require.NoError(t, err)

	var otherMagic [8]byte
	_, err = Decode(otherMagic, encoded)
	require.Error(t, err)
}

func TestContentHashDeterministic(t *testing.T) {
	b1 := sampleBatch()
	b2 := sampleBatch()
	h1, err := ContentHash(b1)
	require.NoError(t, err)
	h2, err := ContentHash(b2)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	b2.TargetL1Block++
	h3, err := ContentHash(b2)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
