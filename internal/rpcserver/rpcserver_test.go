package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/errs"
	"github.com/0xfacet/facet-sequencer/internal/model"
	"github.com/0xfacet/facet-sequencer/internal/store"
)

type fakeIngress struct {
	hash common.Hash
	err  error
}

func (f *fakeIngress) HandleRawTx(ctx context.Context, rawHex string) (common.Hash, error) {
	return f.hash, f.err
}

type fakeStore struct {
	txs              map[common.Hash]*model.Transaction
	batches          map[int64]*model.Batch
	attempts         map[int64]*model.PostAttempt
	pendingCount     int
	stats            store.Stats
	lastConfirmation *time.Time
}

func (f *fakeStore) GetTransactionByHash(ctx context.Context, hash common.Hash) (*model.Transaction, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return tx, nil
}
func (f *fakeStore) GetBatch(ctx context.Context, id int64) (*model.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return b, nil
}
func (f *fakeStore) LiveAttempt(ctx context.Context, batchID int64) (*model.PostAttempt, error) {
	a, ok := f.attempts[batchID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return a, nil
}
func (f *fakeStore) GetStats(ctx context.Context) (store.Stats, error) { return f.stats, nil }
func (f *fakeStore) PendingCount(ctx context.Context) (int, error)     { return f.pendingCount, nil }
func (f *fakeStore) LastL1Confirmation(ctx context.Context) (*time.Time, error) {
	return f.lastConfirmation, nil
}

func testConfig() *config.Config {
	return &config.Config{
		L2ChainID:                big.NewInt(0xface7),
		MaxPendingTxs:            10000,
		UnhealthyConfirmationAge: 5 * time.Minute,
	}
}

func doRPC(t *testing.T, srv *Server, method string, params interface{}) rpcResponse {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: method, Params: paramsJSON})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler(nil).ServeHTTP(rec, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSendRawTransaction_Admits(t *testing.T) {
	hash := common.HexToHash("0xabc")
	srv := New(testConfig(), &fakeIngress{hash: hash}, &fakeStore{}, nil)

	resp := doRPC(t, srv, "eth_sendRawTransaction", []string{"0x01"})
	require.Nil(t, resp.Error)
	require.Equal(t, hash.Hex(), resp.Result)
}

func TestSendRawTransaction_BusyMapsToError(t *testing.T) {
	srv := New(testConfig(), &fakeIngress{err: errs.ErrBusy}, &fakeStore{}, nil)

	resp := doRPC(t, srv, "eth_sendRawTransaction", []string{"0x01"})
	require.NotNil(t, resp.Error)
	require.Equal(t, "Sequencer busy", resp.Error.Message)
}

func TestSendRawTransaction_DuplicateIsIdempotent(t *testing.T) {
	hash := common.HexToHash("0xabc")
	srv := New(testConfig(), &fakeIngress{hash: hash}, &fakeStore{}, nil)

	first := doRPC(t, srv, "eth_sendRawTransaction", []string{"0x01"})
	require.Nil(t, first.Error)
	require.Equal(t, hash.Hex(), first.Result)

	second := doRPC(t, srv, "eth_sendRawTransaction", []string{"0x01"})
	require.Nil(t, second.Error)
	require.Equal(t, hash.Hex(), second.Result)
}

func TestGetTxStatus_Unknown(t *testing.T) {
	srv := New(testConfig(), &fakeIngress{}, &fakeStore{txs: map[common.Hash]*model.Transaction{}}, nil)

	resp := doRPC(t, srv, "sequencer_getTxStatus", []string{"0xdead"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, "unknown", result["status"])
}

func TestGetTxStatus_WithBatchAndAttempt(t *testing.T) {
	hash := common.HexToHash("0xabc")
	batchID := int64(1)
	l1TxHash := common.HexToHash("0xdef")
	fs := &fakeStore{
		txs: map[common.Hash]*model.Transaction{
			hash: {Hash: hash, State: model.TxSubmitted, BatchID: &batchID},
		},
		batches:  map[int64]*model.Batch{1: {ID: 1, State: model.BatchSubmitted}},
		attempts: map[int64]*model.PostAttempt{1: {ID: 1, BatchID: 1, L1TxHash: &l1TxHash}},
	}
	srv := New(testConfig(), &fakeIngress{}, fs, nil)

	resp := doRPC(t, srv, "sequencer_getTxStatus", []string{hash.Hex()})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, "submitted", result["status"])
	require.Equal(t, "direct", result["submissionMode"])
	require.Equal(t, l1TxHash.Hex(), result["l1TxHash"])
}

func TestGetStats(t *testing.T) {
	fs := &fakeStore{stats: store.Stats{QueuedTxs: 3, IncludedTxs: 5, PendingBatches: 1}}
	srv := New(testConfig(), &fakeIngress{}, fs, nil)

	resp := doRPC(t, srv, "sequencer_getStats", []string{})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, float64(3), result["queued_txs"])
	require.Equal(t, float64(1), result["pending_batches"])
}

func TestHealth_HealthyAndUnhealthy(t *testing.T) {
	fs := &fakeStore{pendingCount: 1}
	srv := New(testConfig(), &fakeIngress{}, fs, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler(nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := testConfig()
	cfg.MaxPendingTxs = 1
	fs2 := &fakeStore{pendingCount: 5}
	srv2 := New(cfg, &fakeIngress{}, fs2, nil)
	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec2 := httptest.NewRecorder()
	srv2.Handler(nil).ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}
