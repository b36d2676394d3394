// Package ingress implements the admission pipeline from SPEC_FULL.md §4.2:
// handle_raw_tx(raw) -> tx_hash, the only entry point by which a transaction
// enters the pool.
package ingress

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/errs"
	"github.com/0xfacet/facet-sequencer/internal/model"
	"github.com/0xfacet/facet-sequencer/internal/signer"
	"github.com/0xfacet/facet-sequencer/internal/store"
)

const maxRawBytes = 128 * 1024

// Store is the subset of *store.Store ingress needs, narrowed so tests can
// substitute a fake.
type Store interface {
	PendingCount(ctx context.Context) (int, error)
	InsertOrReplace(ctx context.Context, tx *model.Transaction) (store.InsertResult, error)
}

// Ingress validates and admits raw transactions per spec.md §4.2.
type Ingress struct {
	cfg   *config.Config
	store Store
	rec   signer.Recoverer
}

// New builds an Ingress bound to a store and recoverer.
func New(cfg *config.Config, s Store, rec signer.Recoverer) *Ingress {
	return &Ingress{cfg: cfg, store: s, rec: rec}
}

// HandleRawTx runs the validation pipeline of spec.md §4.2 in order, stopping
// at the first failure, then performs the idempotent/replace-by-fee
// admission inside one store transaction.
func (in *Ingress) HandleRawTx(ctx context.Context, rawHex string) (common.Hash, error) {
	raw, err := decodeHex(rawHex)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", errs.ErrMalformedInput, err)
	}
	if len(raw) > maxRawBytes {
		return common.Hash{}, fmt.Errorf("%w: payload exceeds %d bytes", errs.ErrMalformedInput, maxRawBytes)
	}

	pending, err := in.store.PendingCount(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", errs.ErrRPCFailure, err)
	}
	if pending >= in.cfg.MaxPendingTxs {
		return common.Hash{}, fmt.Errorf("%w: pool at capacity (%d)", errs.ErrBusy, in.cfg.MaxPendingTxs)
	}

	var decoded types.Transaction
	if err := decoded.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: decode transaction: %v", errs.ErrMalformedInput, err)
	}
	switch decoded.Type() {
	case types.LegacyTxType, types.AccessListTxType, types.DynamicFeeTxType:
	default:
		return common.Hash{}, fmt.Errorf("%w: unsupported transaction type %d", errs.ErrMalformedInput, decoded.Type())
	}

	maxFee := decoded.GasFeeCap()
	if maxFee == nil || maxFee.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("%w: missing fee cap", errs.ErrMalformedInput)
	}
	if maxFee.Cmp(in.cfg.MinBaseFee()) < 0 {
		return common.Hash{}, fmt.Errorf("%w: max fee %s below floor %s", errs.ErrUnderpriced, maxFee, in.cfg.MinBaseFee())
	}
	if decoded.Type() == types.DynamicFeeTxType && decoded.GasTipCap() == nil {
		return common.Hash{}, fmt.Errorf("%w: EIP-1559 transaction missing maxPriorityFeePerGas", errs.ErrMalformedInput)
	}

	if decoded.Gas() > in.cfg.BlockGasLimit {
		return common.Hash{}, fmt.Errorf("%w: gas limit %d exceeds block gas limit %d", errs.ErrMalformedInput, decoded.Gas(), in.cfg.BlockGasLimit)
	}

	intrinsic := IntrinsicGas(decoded.To() == nil, decoded.Data(), decoded.AccessList())
	if intrinsic > decoded.Gas() {
		return common.Hash{}, fmt.Errorf("%w: intrinsic gas %d exceeds gas limit %d", errs.ErrMalformedInput, intrinsic, decoded.Gas())
	}

	from, err := in.rec.Sender(&decoded)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: recover sender: %v", errs.ErrMalformedInput, err)
	}

	tx := &model.Transaction{
		Hash:         decoded.Hash(),
		Raw:          raw,
		FromAddress:  from,
		Nonce:        decoded.Nonce(),
		MaxFeePerGas: mustUint256(maxFee),
		GasLimit:     decoded.Gas(),
		IntrinsicGas: intrinsic,
	}
	if tip := decoded.GasTipCap(); tip != nil && decoded.Type() == types.DynamicFeeTxType {
		tx.MaxPriorityFeePerGas = mustUint256(tip)
	}
	tx.ReceivedAt = time.Now()

	res, err := in.store.InsertOrReplace(ctx, tx)
	if err != nil {
		return common.Hash{}, err
	}
	if res.Existed {
		log.Trace("ingress: already known", "hash", res.Hash)
		return res.Hash, nil
	}
	log.Info("ingress: admitted transaction", "hash", res.Hash, "from", from, "replaced", res.Replaced)
	return res.Hash, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	return hex.DecodeString(s)
}

func mustUint256(v *big.Int) *uint256.Int {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return uint256.NewInt(0).SetAllOne()
	}
	return u
}
