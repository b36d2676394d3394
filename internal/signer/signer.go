// Package signer binds the "signature recovery and hashing" capability that
// spec.md §1 treats as an external collaborator to a concrete implementation
// over github.com/ethereum/go-ethereum/crypto and core/types, the same
// library the teacher's own tx pool (core/txpool/tx_vectorfee_pool.go) uses
// for sender recovery via types.Sender.
package signer

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Recoverer recovers the sender address of a decoded transaction. It is the
// only capability Ingress needs from the signing stack.
type Recoverer interface {
	Sender(tx *types.Transaction) (common.Address, error)
}

// Signer recovers senders and signs transactions for direct L1 posting.
type Signer interface {
	Recoverer
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

type gethSigner struct {
	key *ecdsa.PrivateKey
	addr common.Address
}

// NewFromHex builds a Signer from a hex-encoded secp256k1 private key (the
// PRIVATE_KEY environment variable), used by the Direct poster to sign
// L1 transactions.
func NewFromHex(hexKey string) (Signer, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, err
	}
	return &gethSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (s *gethSigner) Address() common.Address { return s.addr }

func (s *gethSigner) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}

func (s *gethSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, s.key)
}

// recoveryOnly implements Recoverer without holding a private key, for
// components (Ingress) that only ever need to recover a sender, never sign.
type recoveryOnly struct{}

// NewRecoverer returns a Recoverer with no signing capability.
func NewRecoverer() Recoverer { return recoveryOnly{} }

func (recoveryOnly) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
}
