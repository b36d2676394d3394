package batchmaker

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/model"
)

type fakeStore struct {
	pending []*model.Transaction
	sealed  []*model.Batch
}

func (f *fakeStore) PendingForSelection(ctx context.Context) ([]*model.Transaction, error) {
	return f.pending, nil
}
func (f *fakeStore) PendingCount(ctx context.Context) (int, error) { return len(f.pending), nil }
func (f *fakeStore) GetBatchByContentHash(ctx context.Context, hash common.Hash) (*model.Batch, error) {
	for _, b := range f.sealed {
		if b.ContentHash == hash {
			return b, nil
		}
	}
	return nil, errNotFound{}
}
func (f *fakeStore) SealBatch(ctx context.Context, b *model.Batch, memberHashes []common.Hash) (*model.Batch, error) {
	b.ID = int64(len(f.sealed) + 1)
	b.State = model.BatchSealed
	b.TxCount = len(memberHashes)
	b.TxHashes = memberHashes
	f.sealed = append(f.sealed, b)
	return b, nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeL1 struct{ blockNumber uint64 }

func (f *fakeL1) BlockNumber(ctx context.Context) (uint64, error) { return f.blockNumber, nil }
func (f *fakeL1) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}
func (f *fakeL1) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeL1) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeL1) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeL1) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MaxBatchSizeBytes: 131072,
		MaxTxPerBatch:     500,
		MaxPerSender:      10,
		OptimalBatchSize:  200,
		BatchIntervalMS:   3000,
		MaxBatchGas:       30_000_000,
		MaxBatchCount:     500,
		L2ChainID:         big.NewInt(0xface7),
		FacetMagicPrefix:  [8]byte{0, 0, 0, 0, 0, 1, 0x23, 0x45},
	}
}

func pendingTx(hash byte, from common.Address, gas uint64, bytes int) *model.Transaction {
	return &model.Transaction{
		Hash:         common.BytesToHash([]byte{hash}),
		Raw:          make([]byte, bytes),
		FromAddress:  from,
		IntrinsicGas: gas,
	}
}

func TestShouldCreateBatch_CountTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.OptimalBatchSize = 2
	bm := New(cfg, &fakeStore{}, &fakeL1{}, nil)
	pending := []*model.Transaction{
		pendingTx(1, common.Address{0x01}, 21000, 10),
		pendingTx(2, common.Address{0x02}, 21000, 10),
	}
	require.True(t, bm.shouldCreateBatch(pending))
}

func TestShouldCreateBatch_EmptyNeverTriggers(t *testing.T) {
	bm := New(testConfig(), &fakeStore{}, &fakeL1{}, nil)
	require.False(t, bm.shouldCreateBatch(nil))
}

func TestShouldCreateBatch_TimeTrigger(t *testing.T) {
	bm := New(testConfig(), &fakeStore{}, &fakeL1{}, nil)
	bm.lastBatchTime = time.Now().Add(-time.Hour)
	pending := []*model.Transaction{pendingTx(1, common.Address{0x01}, 21000, 10)}
	require.True(t, bm.shouldCreateBatch(pending))
}

func TestSelection_RespectsPerSenderCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerSender = 1
	bm := New(cfg, &fakeStore{}, &fakeL1{}, nil)

	from := common.Address{0x01}
	pending := []*model.Transaction{
		pendingTx(1, from, 21000, 10),
		pendingTx(2, from, 21000, 10),
	}
	selected := bm.selection(pending)
	require.Len(t, selected, 1)
}

func TestSelection_SkipsOversizedCandidateButFillsWithSmaller(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSizeBytes = 1000 + 50
	bm := New(cfg, &fakeStore{}, &fakeL1{}, nil)

	pending := []*model.Transaction{
		pendingTx(1, common.Address{0x01}, 21000, 100),
		pendingTx(2, common.Address{0x02}, 21000, 10),
	}
	selected := bm.selection(pending)
	require.Len(t, selected, 1)
	require.Equal(t, pending[1].Hash, selected[0].Hash)
}

func TestCreateBatch_SealsAndDedups(t *testing.T) {
	fs := &fakeStore{pending: []*model.Transaction{
		pendingTx(1, common.Address{0x01}, 21000, 10),
	}}
	bm := New(testConfig(), fs, &fakeL1{blockNumber: 100}, nil)

	id, err := bm.createBatch(context.Background(), fs.pending)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Len(t, fs.sealed, 1)
	require.Equal(t, uint64(101), fs.sealed[0].TargetL1Block)

	id2, err := bm.createBatch(context.Background(), fs.pending)
	require.NoError(t, err)
	require.Zero(t, id2)
	require.Len(t, fs.sealed, 1)
}
