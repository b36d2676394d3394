// Package batchmaker implements the Batch Maker of SPEC_FULL.md §4.3:
// should_create_batch() and create_batch(), the trigger policy, fee-ordered
// selection under byte/gas/sender/count constraints, RLP framing, and the
// atomic seal.
package batchmaker

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/l1client"
	"github.com/0xfacet/facet-sequencer/internal/metrics"
	"github.com/0xfacet/facet-sequencer/internal/model"
	"github.com/0xfacet/facet-sequencer/internal/wire"
)

// Store is the subset of *store.Store the Batch Maker needs.
type Store interface {
	PendingForSelection(ctx context.Context) ([]*model.Transaction, error)
	PendingCount(ctx context.Context) (int, error)
	GetBatchByContentHash(ctx context.Context, hash common.Hash) (*model.Batch, error)
	SealBatch(ctx context.Context, b *model.Batch, memberHashes []common.Hash) (*model.Batch, error)
}

// BatchMaker evaluates the trigger policy on each tick and, when it fires,
// selects and atomically seals a batch.
type BatchMaker struct {
	cfg     *config.Config
	store   Store
	l1      l1client.Client
	metrics *metrics.Metrics

	mu            sync.Mutex
	pendingBytes  int
	lastBatchTime time.Time
}

// New builds a BatchMaker. lastBatchTime starts at process start, matching
// the teacher's own zero-state-on-boot convention for in-memory tick state
// (the Store, not this timestamp, is the durable source of truth). m may be
// nil.
func New(cfg *config.Config, s Store, l1 l1client.Client, m *metrics.Metrics) *BatchMaker {
	return &BatchMaker{cfg: cfg, store: s, l1: l1, metrics: m, lastBatchTime: time.Now()}
}

// Tick evaluates the trigger policy and, if it fires, creates a batch.
// Returns the sealed batch id, or 0 if no batch was created.
func (bm *BatchMaker) Tick(ctx context.Context) (int64, error) {
	pending, err := bm.store.PendingForSelection(ctx)
	if err != nil {
		return 0, fmt.Errorf("batchmaker: load pending: %w", err)
	}
	if !bm.shouldCreateBatch(pending) {
		return 0, nil
	}

	bm.mu.Lock()
	bm.lastBatchTime = time.Now()
	bm.mu.Unlock()

	return bm.createBatch(ctx, pending)
}

// shouldCreateBatch implements the trigger policy of spec.md §4.3: any one
// of byte-size, count, or time-since-last-batch suffices.
func (bm *BatchMaker) shouldCreateBatch(pending []*model.Transaction) bool {
	if len(pending) == 0 {
		return false
	}

	totalBytes := 0
	for _, tx := range pending {
		totalBytes += len(tx.Raw)
	}
	if totalBytes >= bm.cfg.MaxBatchBytes() {
		return true
	}
	if len(pending) >= bm.cfg.OptimalBatchSize {
		return true
	}

	bm.mu.Lock()
	elapsed := time.Since(bm.lastBatchTime)
	bm.mu.Unlock()
	return elapsed >= bm.cfg.BatchTickInterval()
}

// selection scans pending (already ordered fee-desc, seq-asc by the Store)
// and admits transactions while respecting every constraint in spec.md
// §4.3, skipping (not aborting on) a candidate that would breach one.
func (bm *BatchMaker) selection(pending []*model.Transaction) []*model.Transaction {
	var (
		selected      []*model.Transaction
		bytesUsed     int
		gasUsed       uint64
		perSenderCount = map[common.Address]int{}
	)

	maxBytes := bm.cfg.MaxBatchBytes()
	for _, tx := range pending {
		if len(selected) >= bm.cfg.MaxBatchCount {
			break
		}
		txBytes := len(tx.Raw)
		if bytesUsed+txBytes > maxBytes {
			continue
		}
		if gasUsed+tx.IntrinsicGas > bm.cfg.MaxBatchGas {
			continue
		}
		if perSenderCount[tx.FromAddress] >= bm.cfg.MaxPerSender {
			continue
		}

		selected = append(selected, tx)
		bytesUsed += txBytes
		gasUsed += tx.IntrinsicGas
		perSenderCount[tx.FromAddress]++
	}
	return selected
}

// createBatch frames, dedups, and atomically seals a batch from the
// selected candidates.
func (bm *BatchMaker) createBatch(ctx context.Context, pending []*model.Transaction) (int64, error) {
	selected := bm.selection(pending)
	if len(selected) == 0 {
		return 0, nil
	}

	l1BlockNumber, err := bm.blockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("batchmaker: l1 block number: %w", err)
	}
	targetL1Block := l1BlockNumber + 1

	rawTxs := make([][]byte, len(selected))
	hashes := make([]common.Hash, len(selected))
	for i, tx := range selected {
		rawTxs[i] = tx.Raw
		hashes[i] = tx.Hash
	}

	batchData := wire.BatchData{
		Version:       1,
		ChainID:       bm.cfg.L2ChainID,
		Role:          wire.RoleForced,
		TargetL1Block: targetL1Block,
		Transactions:  rawTxs,
		ExtraData:     []byte{},
	}

	contentHash, err := wire.ContentHash(batchData)
	if err != nil {
		return 0, fmt.Errorf("batchmaker: content hash: %w", err)
	}

	if existing, err := bm.store.GetBatchByContentHash(ctx, contentHash); err == nil && existing != nil {
		log.Warn("batchmaker: batch with this content hash already exists, skipping", "contentHash", contentHash)
		return 0, nil
	}

	wireFormat, err := wire.Encode(bm.cfg.FacetMagicPrefix, batchData)
	if err != nil {
		return 0, fmt.Errorf("batchmaker: encode wire format: %w", err)
	}

	gasBid, err := bm.gasBid(ctx)
	if err != nil {
		log.Warn("batchmaker: gas bid estimation failed, using fallback", "err", err)
	}

	batch := &model.Batch{
		ContentHash:   contentHash,
		WireFormat:    wireFormat,
		BlobSize:      len(wireFormat),
		GasBid:        gasBid,
		TargetL1Block: targetL1Block,
	}

	sealed, err := bm.store.SealBatch(ctx, batch, hashes)
	if err != nil {
		return 0, fmt.Errorf("batchmaker: seal batch: %w", err)
	}

	bm.metrics.IncBatchesSealed()
	bm.metrics.ObserveBatchFill(float64(sealed.BlobSize), float64(sealed.TxCount))
	log.Info("batchmaker: sealed batch", "id", sealed.ID, "txCount", sealed.TxCount, "bytes", sealed.BlobSize, "targetL1Block", targetL1Block)
	return sealed.ID, nil
}

// blockNumber calls L1 under the configured per-request timeout (spec.md
// §9, "L1/L2 RPCs use a per-request timeout").
func (bm *BatchMaker) blockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, bm.cfg.RPCTimeout)
	defer cancel()
	return bm.l1.BlockNumber(ctx)
}

// gasBid computes 2x the L1's current max fee per gas, falling back to
// 100 gwei (spec.md §4.3 "Gas bid").
func (bm *BatchMaker) gasBid(ctx context.Context) (*uint256.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, bm.cfg.RPCTimeout)
	defer cancel()
	fee, err := l1client.EstimateMaxFeePerGas(ctx, bm.l1, 2)
	if err != nil {
		fallback, _ := uint256.FromBig(new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000)))
		return fallback, err
	}
	v, overflow := uint256.FromBig(fee)
	if overflow {
		return uint256.NewInt(0).SetAllOne(), nil
	}
	return v, nil
}
