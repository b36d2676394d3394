package poster

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/errs"
	"github.com/0xfacet/facet-sequencer/internal/model"
	"github.com/0xfacet/facet-sequencer/internal/signer"
)

type fakeStore struct {
	batches  map[int64]*model.Batch
	attempts map[int64]*model.PostAttempt
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: map[int64]*model.Batch{}, attempts: map[int64]*model.PostAttempt{}}
}

func (f *fakeStore) GetBatch(ctx context.Context, id int64) (*model.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return b, nil
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
	var live *model.PostAttempt
	for _, a := range f.attempts {
		if a.BatchID == batchID && a.Status != model.AttemptReplaced {
			if live == nil || a.ID > live.ID {
				live = a
			}
		}
	}
	if live == nil {
		return nil, errs.ErrNotFound
	}
	return live, nil
}
func (f *fakeStore) RecordAttempt(ctx context.Context, a *model.PostAttempt) (*model.PostAttempt, error) {
	f.nextID++
	a.ID = f.nextID
	a.Status = model.AttemptPending
	f.attempts[a.ID] = a
	if b, ok := f.batches[a.BatchID]; ok && b.State == model.BatchSealed {
		b.State = model.BatchSubmitted
	}
	return a, nil
}
func (f *fakeStore) ReplaceAttempt(ctx context.Context, oldID int64, next *model.PostAttempt) (*model.PostAttempt, error) {
	f.nextID++
	next.ID = f.nextID
	next.Status = model.AttemptPending
	f.attempts[next.ID] = next
	if old, ok := f.attempts[oldID]; ok {
		old.Status = model.AttemptReplaced
		old.ReplacedBy = &next.ID
	}
	return next, nil
}
func (f *fakeStore) FailAttempt(ctx context.Context, attemptID int64, reason string) error {
	if a, ok := f.attempts[attemptID]; ok {
		a.Status = model.AttemptFailed
		a.FailureReason = &reason
	}
	return nil
}
func (f *fakeStore) FailBatch(ctx context.Context, batchID int64) error {
	if b, ok := f.batches[batchID]; ok {
		b.State = model.BatchFailed
	}
	return nil
}
func (f *fakeStore) PendingAttemptsOlderThan(ctx context.Context, cutoff time.Time) ([]*model.PostAttempt, error) {
	var out []*model.PostAttempt
	for _, a := range f.attempts {
		if a.Status == model.AttemptPending && !a.SubmittedAt.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeStore) HighestConfirmedL1Nonce(ctx context.Context) (uint64, bool, error) {
	var max uint64
	found := false
	for _, a := range f.attempts {
		if a.Status == model.AttemptMined && (!found || a.L1Nonce > max) {
			max = a.L1Nonce
			found = true
		}
	}
	return max, found, nil
}
func (f *fakeStore) OutstandingPendingCount(ctx context.Context) (int, error) {
	n := 0
	for _, a := range f.attempts {
		if a.Status == model.AttemptPending {
			n++
		}
	}
	return n, nil
}
func (f *fakeStore) MarkConfirmed(ctx context.Context, attemptID, batchID int64, blockNumber uint64, blockHash common.Hash) error {
	if a, ok := f.attempts[attemptID]; ok {
		a.Status = model.AttemptMined
	}
	if b, ok := f.batches[batchID]; ok {
		b.State = model.BatchL1Included
	}
	return nil
}

type fakeL1 struct {
	sent []*types.Transaction
}

func (f *fakeL1) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }
func (f *fakeL1) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}
func (f *fakeL1) SuggestGasTipCap(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeL1) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}
func (f *fakeL1) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, nil
}
func (f *fakeL1) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 5, nil
}

func testSigner(t *testing.T) (signer.Signer, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	s, err := signer.NewFromHex(hexKey)
	require.NoError(t, err)
	return s, key
}

func testConfig() *config.Config {
	return &config.Config{
		L1ChainID:         big.NewInt(1),
		BaseFeeMultiplier: 2,
		EscalationRate:    1.125,
		PosterGraceWindow: 30 * time.Second,
	}
}

func TestPostBatch_Direct(t *testing.T) {
	fs := newFakeStore()
	fs.batches[1] = &model.Batch{ID: 1, State: model.BatchSealed, WireFormat: []byte{0x01, 0x02}}
	sg, _ := testSigner(t)
	l1 := &fakeL1{}

	p := New(testConfig(), fs, l1, sg, nil, nil)
	err := p.PostBatch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, l1.sent, 1)
	require.Equal(t, model.BatchSubmitted, fs.batches[1].State)

	live, err := fs.LiveAttempt(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, model.AttemptPending, live.Status)
}

func TestPostBatch_SkipsWhenAlreadyLive(t *testing.T) {
	fs := newFakeStore()
	fs.batches[1] = &model.Batch{ID: 1, State: model.BatchSealed}
	fs.attempts[1] = &model.PostAttempt{ID: 1, BatchID: 1, Status: model.AttemptPending, SubmittedAt: time.Now()}
	sg, _ := testSigner(t)

	p := New(testConfig(), fs, &fakeL1{}, sg, nil, nil)
	err := p.PostBatch(context.Background(), 1)
	require.ErrorIs(t, err, errAlreadyLive)
}

func TestCheckPendingTransactions_EscalatesAndChains(t *testing.T) {
	fs := newFakeStore()
	fs.batches[1] = &model.Batch{ID: 1, State: model.BatchSubmitted}
	fs.attempts[1] = &model.PostAttempt{
		ID: 1, BatchID: 1, L1Nonce: 7, Status: model.AttemptPending,
		MaxFeePerGas: uint256.NewInt(1_000_000_000), SubmittedAt: time.Now().Add(-time.Hour),
	}
	sg, _ := testSigner(t)
	l1 := &fakeL1{}

	p := New(testConfig(), fs, l1, sg, nil, nil)
	require.NoError(t, p.CheckPendingTransactions(context.Background()))

	require.Equal(t, model.AttemptReplaced, fs.attempts[1].Status)
	require.NotNil(t, fs.attempts[1].ReplacedBy)

	live, err := fs.LiveAttempt(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(7), live.L1Nonce)
	require.Equal(t, 0, live.MaxFeePerGas.Cmp(escalateFee(uint256.NewInt(1_000_000_000), 1.125)))
}
