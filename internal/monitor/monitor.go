// Package monitor implements the Inclusion Monitor of SPEC_FULL.md §4.5:
// an L1 loop (confirmation + reorg detection + finality) and an L2 loop
// (inclusion detection), both time.Ticker-driven goroutines with
// context.Context cancellation, matching the corpus's batcher driver loop
// structure and the reorg-verification pattern of
// other_examples/3b42db6d_EspressoSystems-op-espresso-integration__op-service-sources-l1_client.go.go.
package monitor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/l1client"
	"github.com/0xfacet/facet-sequencer/internal/l2client"
	"github.com/0xfacet/facet-sequencer/internal/metrics"
	"github.com/0xfacet/facet-sequencer/internal/model"
)

// Store is the subset of *store.Store the Monitor needs.
type Store interface {
	BatchesInState(ctx context.Context, states ...model.BatchState) ([]*model.Batch, error)
	LiveAttempt(ctx context.Context, batchID int64) (*model.PostAttempt, error)
	MarkConfirmed(ctx context.Context, attemptID, batchID int64, blockNumber uint64, blockHash common.Hash) error
	MarkReorged(ctx context.Context, batchID, attemptID int64) error
	MarkFinalized(ctx context.Context, batchID int64) error
	MarkL2Included(ctx context.Context, hash common.Hash, blockNumber uint64, blockHash common.Hash) error
	GetTransactionByHash(ctx context.Context, hash common.Hash) (*model.Transaction, error)
}

// Monitor runs the L1 and L2 observation loops.
type Monitor struct {
	cfg     *config.Config
	store   Store
	l1      l1client.Client
	l2      l2client.Client
	metrics *metrics.Metrics

	pollInterval time.Duration
	lastL2Block  uint64
}

// New builds a Monitor. pollInterval governs both loops' tick rate. m may
// be nil.
func New(cfg *config.Config, s Store, l1 l1client.Client, l2 l2client.Client, pollInterval time.Duration, m *metrics.Metrics) *Monitor {
	return &Monitor{cfg: cfg, store: s, l1: l1, l2: l2, pollInterval: pollInterval, metrics: m}
}

// Run starts both loops and blocks until ctx is cancelled. Both loops stop
// promptly on cancellation; in-flight RPC calls are allowed to finish but
// their results may be discarded (spec.md §4.5 "Cancellation").
func (m *Monitor) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { m.runL1Loop(ctx); done <- struct{}{} }()
	go func() { m.runL2Loop(ctx); done <- struct{}{} }()
	<-done
	<-done
}

func (m *Monitor) runL1Loop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.L1Tick(ctx); err != nil {
				log.Warn("monitor: l1 tick failed", "err", err)
			}
		}
	}
}

func (m *Monitor) runL2Loop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.L2Tick(ctx); err != nil {
				log.Warn("monitor: l2 tick failed", "err", err)
			}
		}
	}
}

// L1Tick implements one round of spec.md §4.5's "L1 loop": confirmation for
// submitted batches, reorg verification for l1_included batches, and
// finality promotion.
func (m *Monitor) L1Tick(ctx context.Context) error {
	headCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	currentHead, err := m.l1.BlockNumber(headCtx)
	cancel()
	if err != nil {
		return err
	}

	submitted, err := m.store.BatchesInState(ctx, model.BatchSubmitted)
	if err != nil {
		return err
	}
	for _, b := range submitted {
		if err := m.checkConfirmation(ctx, b); err != nil {
			log.Warn("monitor: check confirmation failed", "batchId", b.ID, "err", err)
		}
	}

	included, err := m.store.BatchesInState(ctx, model.BatchL1Included)
	if err != nil {
		return err
	}
	for _, b := range included {
		if err := m.checkReorgOrFinality(ctx, b, currentHead); err != nil {
			log.Warn("monitor: check reorg/finality failed", "batchId", b.ID, "err", err)
		}
	}
	return nil
}

func (m *Monitor) checkConfirmation(ctx context.Context, b *model.Batch) error {
	attempt, err := m.store.LiveAttempt(ctx, b.ID)
	if err != nil || attempt.L1TxHash == nil {
		return err
	}

	receiptCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	receipt, err := m.l1.TransactionReceipt(receiptCtx, *attempt.L1TxHash)
	cancel()
	if err != nil || receipt == nil {
		return nil // not yet mined; try again next tick
	}

	headCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	head, err := m.l1.HeaderByNumber(headCtx, receipt.BlockNumber)
	cancel()
	if err != nil {
		return err
	}

	m.metrics.IncBatchesConfirmed()
	log.Info("monitor: batch confirmed on l1", "batchId", b.ID, "blockNumber", receipt.BlockNumber, "blockHash", head.Hash())
	return m.store.MarkConfirmed(ctx, attempt.ID, b.ID, receipt.BlockNumber.Uint64(), head.Hash())
}

func (m *Monitor) checkReorgOrFinality(ctx context.Context, b *model.Batch, currentHead uint64) error {
	attempt, err := m.store.LiveAttempt(ctx, b.ID)
	if err != nil || attempt.BlockNumber == nil || attempt.BlockHash == nil {
		return err
	}

	if currentHead-*attempt.BlockNumber >= m.cfg.FinalityDepth {
		log.Info("monitor: batch finalized", "batchId", b.ID)
		return m.store.MarkFinalized(ctx, b.ID)
	}

	headCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	canonical, err := m.l1.HeaderByNumber(headCtx, new(big.Int).SetUint64(*attempt.BlockNumber))
	cancel()
	if err != nil {
		return err
	}
	if canonical.Hash() != *attempt.BlockHash {
		m.metrics.IncBatchesReorged()
		log.Warn("monitor: reorg detected", "batchId", b.ID, "expected", attempt.BlockHash, "canonical", canonical.Hash())
		return m.store.MarkReorged(ctx, b.ID, attempt.ID)
	}
	return nil
}

// L2Tick implements spec.md §4.5's "L2 loop": poll for new blocks and mark
// every Store-known transaction hash found in them l2_included.
func (m *Monitor) L2Tick(ctx context.Context) error {
	headCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
	head, err := m.l2.BlockNumber(headCtx)
	cancel()
	if err != nil {
		return err
	}

	for n := m.lastL2Block + 1; n <= head; n++ {
		blockCtx, cancel := context.WithTimeout(ctx, m.cfg.RPCTimeout)
		block, err := m.l2.BlockByNumber(blockCtx, new(big.Int).SetUint64(n))
		cancel()
		if err != nil {
			return err
		}
		for _, hash := range l2client.TxHashesInBlock(block) {
			if _, err := m.store.GetTransactionByHash(ctx, hash); err != nil {
				continue // not a hash this sequencer admitted
			}
			if err := m.store.MarkL2Included(ctx, hash, n, block.Hash()); err != nil {
				log.Warn("monitor: mark l2 included failed", "hash", hash, "err", err)
			}
		}
		m.lastL2Block = n
	}
	return nil
}
