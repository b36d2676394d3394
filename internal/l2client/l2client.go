// Package l2client narrows the L2 execution engine to the operations the
// Inclusion Monitor and JSON-RPC passthrough need, binding spec.md's "L2
// execution engine" external collaborator to
// github.com/ethereum/go-ethereum/ethclient exactly as the teacher's
// ethclient/ethclient_rollup.go does for its own L2-facing calls.
package l2client

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client is the L2 surface used by this sequencer.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	ChainID(ctx context.Context) (*big.Int, error)
	RawClient() *rpc.Client
}

type client struct {
	eth *ethclient.Client
	raw *rpc.Client
}

// Dial connects to an L2 JSON-RPC endpoint, keeping both the typed
// ethclient.Client and the raw rpc.Client so the RPC server can proxy
// arbitrary methods verbatim (spec.md §6, "Any other method is proxied").
func Dial(ctx context.Context, rawurl string) (Client, error) {
	raw, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return &client{eth: ethclient.NewClient(raw), raw: raw}, nil
}

func (c *client) BlockNumber(ctx context.Context) (uint64, error) { return c.eth.BlockNumber(ctx) }
func (c *client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return c.eth.BlockByNumber(ctx, number)
}
func (c *client) ChainID(ctx context.Context) (*big.Int, error) { return c.eth.ChainID(ctx) }
func (c *client) RawClient() *rpc.Client                        { return c.raw }

// TxHashesInBlock returns the hashes of every transaction in block b, used
// by the Inclusion Monitor's L2 loop to find Store-known hashes.
func TxHashesInBlock(b *types.Block) []common.Hash {
	txs := b.Transactions()
	out := make([]common.Hash, len(txs))
	for i, tx := range txs {
		out[i] = tx.Hash()
	}
	return out
}
