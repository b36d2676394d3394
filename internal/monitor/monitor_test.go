package monitor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/errs"
	"github.com/0xfacet/facet-sequencer/internal/model"
)

type fakeStore struct {
	batches  map[int64]*model.Batch
	attempts map[int64]*model.PostAttempt
	txs      map[common.Hash]*model.Transaction
	reorged  bool
	finalized bool
}

func (f *fakeStore) BatchesInState(ctx context.Context, states ...model.BatchState) ([]*model.Batch, error) {
	var out []*model.Batch
	for _, b := range f.batches {
		for _, st := range states {
			if b.State == st {
				out = append(out, b)
			}
		}
	}
	return out, nil
}
func (f *fakeStore) LiveAttempt(ctx context.Context, batchID int64) (*model.PostAttempt, error) {
	for _, a := range f.attempts {
		if a.BatchID == batchID {
			return a, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeStore) MarkConfirmed(ctx context.Context, attemptID, batchID int64, blockNumber uint64, blockHash common.Hash) error {
	f.attempts[attemptID].Status = model.AttemptMined
	f.attempts[attemptID].BlockNumber = &blockNumber
	f.attempts[attemptID].BlockHash = &blockHash
	f.batches[batchID].State = model.BatchL1Included
	return nil
}
func (f *fakeStore) MarkReorged(ctx context.Context, batchID, attemptID int64) error {
	f.reorged = true
	f.batches[batchID].State = model.BatchReorged
	return nil
}
func (f *fakeStore) MarkFinalized(ctx context.Context, batchID int64) error {
	f.finalized = true
	f.batches[batchID].State = model.BatchFinalized
	return nil
}
func (f *fakeStore) MarkL2Included(ctx context.Context, hash common.Hash, blockNumber uint64, blockHash common.Hash) error {
	if tx, ok := f.txs[hash]; ok {
		tx.State = model.TxL2Included
		tx.L2BlockNumber = &blockNumber
	}
	return nil
}
func (f *fakeStore) GetTransactionByHash(ctx context.Context, hash common.Hash) (*model.Transaction, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return tx, nil
}

type fakeL1 struct {
	head     uint64
	receipts map[common.Hash]*types.Receipt
	headers  map[uint64]*types.Header
}

func (f *fakeL1) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }
func (f *fakeL1) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if number == nil {
		return f.headers[f.head], nil
	}
	return f.headers[number.Uint64()], nil
}
func (f *fakeL1) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeL1) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }
func (f *fakeL1) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f.receipts[txHash], nil
}
func (f *fakeL1) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{FinalityDepth: 64}
}

func TestCheckConfirmation_MarksMined(t *testing.T) {
	txHash := common.HexToHash("0xaaaa")
	fs := &fakeStore{
		batches:  map[int64]*model.Batch{1: {ID: 1, State: model.BatchSubmitted}},
		attempts: map[int64]*model.PostAttempt{1: {ID: 1, BatchID: 1, L1TxHash: &txHash, Status: model.AttemptPending}},
	}
	l1 := &fakeL1{
		head:     100,
		receipts: map[common.Hash]*types.Receipt{txHash: {BlockNumber: big.NewInt(99)}},
		headers:  map[uint64]*types.Header{99: {Number: big.NewInt(99)}},
	}

	m := New(testConfig(), fs, l1, nil, time.Second, nil)
	require.NoError(t, m.checkConfirmation(context.Background(), fs.batches[1]))
	require.Equal(t, model.AttemptMined, fs.attempts[1].Status)
	require.Equal(t, model.BatchL1Included, fs.batches[1].State)
}

func TestCheckReorgOrFinality_DetectsReorg(t *testing.T) {
	blockNum := uint64(50)
	oldHash := common.HexToHash("0x01")
	fs := &fakeStore{
		batches:  map[int64]*model.Batch{1: {ID: 1, State: model.BatchL1Included}},
		attempts: map[int64]*model.PostAttempt{1: {ID: 1, BatchID: 1, BlockNumber: &blockNum, BlockHash: &oldHash}},
	}
	l1 := &fakeL1{
		head:    60,
		headers: map[uint64]*types.Header{50: {Number: big.NewInt(50), Extra: []byte("different")}},
	}

	m := New(testConfig(), fs, l1, nil, time.Second, nil)
	require.NoError(t, m.checkReorgOrFinality(context.Background(), fs.batches[1], 60))
	require.True(t, fs.reorged)
	require.Equal(t, model.BatchReorged, fs.batches[1].State)
}

func TestCheckReorgOrFinality_Finalizes(t *testing.T) {
	blockNum := uint64(10)
	hash := common.HexToHash("0x01")
	fs := &fakeStore{
		batches:  map[int64]*model.Batch{1: {ID: 1, State: model.BatchL1Included}},
		attempts: map[int64]*model.PostAttempt{1: {ID: 1, BatchID: 1, BlockNumber: &blockNum, BlockHash: &hash}},
	}
	l1 := &fakeL1{head: 100}

	m := New(testConfig(), fs, l1, nil, time.Second, nil)
	require.NoError(t, m.checkReorgOrFinality(context.Background(), fs.batches[1], 100))
	require.True(t, fs.finalized)
}
