// Package l1client narrows the L1 node to the handful of operations the
// Batch Maker, Poster, and Inclusion Monitor need, binding spec.md's "L1
// node" external collaborator to github.com/ethereum/go-ethereum/ethclient
// the same way node/node_rollup.go and ethclient/ethclient_rollup.go dial
// and use it in the teacher.
package l1client

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the L1 surface used by this sequencer. A subset of
// *ethclient.Client's methods, narrowed to what the Batch Maker/Poster/
// Monitor actually call, so tests can substitute a fake.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Dial connects to an L1 JSON-RPC endpoint, matching the dialing pattern
// of node/node_rollup.go's ethclient.Dial usage.
func Dial(rawurl string) (Client, error) {
	return ethclient.Dial(rawurl)
}

// EstimateMaxFeePerGas returns multiplier x the latest base fee, the input to
// the Batch Maker's gas_bid rule (spec.md §4.3) and the Poster's fee cap. It
// falls back to 100 gwei when the header carries no base fee (a pre-London
// L1); an RPC error is returned to the caller unchanged.
func EstimateMaxFeePerGas(ctx context.Context, c Client, multiplier float64) (*big.Int, error) {
	head, err := c.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if head.BaseFee == nil {
		return defaultMaxFeePerGas(), nil
	}
	mul := new(big.Float).Mul(new(big.Float).SetInt(head.BaseFee), big.NewFloat(multiplier))
	out, _ := mul.Int(nil)
	return out, nil
}

func defaultMaxFeePerGas() *big.Int {
	return new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000))
}
