// Package poster implements the Poster of SPEC_FULL.md §4.4: post_batch and
// check_pending_transaction, with both a Direct (sign-and-broadcast) and an
// Aggregator (hand off to a DA aggregator) variant, plus the shared
// replace-by-fee escalation loop. The tick/submit/escalate shape is
// grounded on the corpus's op-batcher driver loop
// (other_examples/93985859_netrats-optimism__op-batcher-batcher-driver.go.go),
// adapted from its in-memory channel manager to the Store-backed model.
package poster

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/0xfacet/facet-sequencer/internal/aggregator"
	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/errs"
	"github.com/0xfacet/facet-sequencer/internal/l1client"
	"github.com/0xfacet/facet-sequencer/internal/metrics"
	"github.com/0xfacet/facet-sequencer/internal/model"
	"github.com/0xfacet/facet-sequencer/internal/signer"
)

// Store is the subset of *store.Store the Poster needs.
type Store interface {
	GetBatch(ctx context.Context, id int64) (*model.Batch, error)
	BatchesInState(ctx context.Context, states ...model.BatchState) ([]*model.Batch, error)
	LiveAttempt(ctx context.Context, batchID int64) (*model.PostAttempt, error)
	RecordAttempt(ctx context.Context, a *model.PostAttempt) (*model.PostAttempt, error)
	ReplaceAttempt(ctx context.Context, oldID int64, next *model.PostAttempt) (*model.PostAttempt, error)
	FailAttempt(ctx context.Context, attemptID int64, reason string) error
	FailBatch(ctx context.Context, batchID int64) error
	PendingAttemptsOlderThan(ctx context.Context, cutoff time.Time) ([]*model.PostAttempt, error)
	HighestConfirmedL1Nonce(ctx context.Context) (uint64, bool, error)
	OutstandingPendingCount(ctx context.Context) (int, error)
	MarkConfirmed(ctx context.Context, attemptID, batchID int64, blockNumber uint64, blockHash common.Hash) error
}

// Poster drives both submission variants described in spec.md §4.4.
type Poster struct {
	cfg     *config.Config
	store   Store
	l1      l1client.Client
	signer  signer.Signer
	agg     aggregator.Client // nil when running in Direct mode
	metrics *metrics.Metrics
}

// New builds a Poster. agg must be non-nil iff cfg.UseDABuilder is set; sg
// (the Signer) must be non-nil iff running in Direct mode. m may be nil.
func New(cfg *config.Config, s Store, l1 l1client.Client, sg signer.Signer, agg aggregator.Client, m *metrics.Metrics) *Poster {
	return &Poster{cfg: cfg, store: s, l1: l1, signer: sg, agg: agg, metrics: m}
}

// Tick runs one round: submit any un-submitted sealed batches, then
// escalate any pending attempt past its grace window.
func (p *Poster) Tick(ctx context.Context) {
	sealed, err := p.store.BatchesInState(ctx, model.BatchSealed, model.BatchSubmitted)
	if err != nil {
		log.Error("poster: list sealed/submitted batches", "err", err)
		return
	}
	for _, b := range sealed {
		if err := p.PostBatch(ctx, b.ID); err != nil && !errors.Is(err, errAlreadyLive) {
			log.Warn("poster: post batch failed", "batchId", b.ID, "err", err)
		}
	}

	if err := p.CheckPendingTransactions(ctx); err != nil {
		log.Warn("poster: check pending transactions", "err", err)
	}
}

var errAlreadyLive = errors.New("poster: batch already has a live pending attempt")

// PostBatch implements spec.md §4.4's Direct/Aggregator posting algorithm.
func (p *Poster) PostBatch(ctx context.Context, batchID int64) error {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("poster: load batch: %w", err)
	}
	if batch.State != model.BatchSealed && batch.State != model.BatchSubmitted {
		return fmt.Errorf("poster: batch %d in state %s is not postable", batchID, batch.State)
	}

	if live, err := p.store.LiveAttempt(ctx, batchID); err == nil && live.Status == model.AttemptPending {
		return errAlreadyLive
	} else if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("poster: check live attempt: %w", err)
	}

	if p.agg != nil {
		return p.postViaAggregator(ctx, batch)
	}
	return p.postDirect(ctx, batch)
}

func (p *Poster) reserveNonce(ctx context.Context) (uint64, error) {
	highest, ok, err := p.store.HighestConfirmedL1Nonce(ctx)
	if err != nil {
		return 0, err
	}
	outstanding, err := p.store.OutstandingPendingCount(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		rpcCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
		pending, err := p.l1.PendingNonceAt(rpcCtx, p.signer.Address())
		cancel()
		if err != nil {
			return 0, err
		}
		return pending + uint64(outstanding), nil
	}
	return highest + 1 + uint64(outstanding), nil
}

func (p *Poster) postDirect(ctx context.Context, batch *model.Batch) error {
	nonce, err := p.reserveNonce(ctx)
	if err != nil {
		return fmt.Errorf("%w: reserve nonce: %v", errs.ErrRPCFailure, err)
	}

	feeCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	maxFee, err := l1client.EstimateMaxFeePerGas(feeCtx, p.l1, p.cfg.BaseFeeMultiplier)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: estimate fee: %v", errs.ErrRPCFailure, err)
	}
	tipCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	tip, err := p.l1.SuggestGasTipCap(tipCtx)
	cancel()
	if err != nil {
		tip = big.NewInt(1_000_000_000)
	}

	self := p.signer.Address()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.cfg.L1ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       200_000,
		To:        &self,
		Value:     big.NewInt(0),
		Data:      batch.WireFormat,
	})

	signed, err := p.signer.SignTx(tx, p.cfg.L1ChainID)
	if err != nil {
		return fmt.Errorf("%w: sign: %v", errs.ErrAttemptFailed, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	sendErr := p.l1.SendTransaction(sendCtx, signed)
	cancel()
	if sendErr != nil && !isAlreadyKnown(sendErr) {
		if isHardFailure(sendErr) {
			return p.abandonBatch(ctx, batch.ID, sendErr)
		}
		return fmt.Errorf("%w: broadcast: %v", errs.ErrRPCFailure, sendErr)
	}

	hash := signed.Hash()
	_, err = p.store.RecordAttempt(ctx, &model.PostAttempt{
		BatchID:      batch.ID,
		L1TxHash:     &hash,
		L1Nonce:      nonce,
		GasPrice:     mustUint256(maxFee),
		MaxFeePerGas: mustUint256(maxFee),
		SubmittedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("poster: record attempt: %w", err)
	}
	p.metrics.IncBatchesSubmitted()
	log.Info("poster: submitted batch directly", "batchId", batch.ID, "l1TxHash", hash, "nonce", nonce)
	return nil
}

func (p *Poster) postViaAggregator(ctx context.Context, batch *model.Batch) error {
	reqID, err := p.agg.SubmitBatch(ctx, aggregator.SubmitRequest{
		ProposerAddress: p.cfg.ProposerAddress,
		WireFormat:      batch.WireFormat,
	})
	if err != nil {
		return fmt.Errorf("%w: aggregator submit: %v", errs.ErrRPCFailure, err)
	}

	_, err = p.store.RecordAttempt(ctx, &model.PostAttempt{
		BatchID:             batch.ID,
		AggregatorRequestID: &reqID,
		SubmittedAt:         time.Now(),
	})
	if err != nil {
		return fmt.Errorf("poster: record attempt: %w", err)
	}
	p.metrics.IncBatchesSubmitted()
	log.Info("poster: submitted batch to aggregator", "batchId", batch.ID, "requestId", reqID)
	return nil
}

// CheckPendingTransactions implements the RBF escalation loop of spec.md
// §4.4: every pending attempt older than the grace window is escalated by
// ESCALATION_RATE at the same L1 nonce.
func (p *Poster) CheckPendingTransactions(ctx context.Context) error {
	cutoff := time.Now().Add(-p.cfg.PosterGraceWindow)
	stale, err := p.store.PendingAttemptsOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("poster: list stale attempts: %w", err)
	}

	for _, a := range stale {
		if a.IsAggregator() {
			continue // aggregator attempts have no local RBF path
		}
		if err := p.escalate(ctx, a); err != nil {
			log.Warn("poster: escalate attempt failed", "attemptId", a.ID, "err", err)
		}
	}
	return nil
}

func (p *Poster) escalate(ctx context.Context, a *model.PostAttempt) error {
	escalated := escalateFee(a.MaxFeePerGas, p.cfg.EscalationRate)

	batch, err := p.store.GetBatch(ctx, a.BatchID)
	if err != nil {
		return fmt.Errorf("poster: load batch for escalation: %w", err)
	}

	self := p.signer.Address()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.cfg.L1ChainID,
		Nonce:     a.L1Nonce,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: escalated.ToBig(),
		Gas:       200_000,
		To:        &self,
		Value:     big.NewInt(0),
		Data:      batch.WireFormat,
	})
	signed, err := p.signer.SignTx(tx, p.cfg.L1ChainID)
	if err != nil {
		_ = p.store.FailAttempt(ctx, a.ID, fmt.Sprintf("sign failed: %v", err))
		return p.abandonBatch(ctx, a.BatchID, err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.RPCTimeout)
	sendErr := p.l1.SendTransaction(sendCtx, signed)
	cancel()
	if sendErr != nil && !isAlreadyKnown(sendErr) {
		if isHardFailure(sendErr) {
			_ = p.store.FailAttempt(ctx, a.ID, sendErr.Error())
			return p.abandonBatch(ctx, a.BatchID, sendErr)
		}
		return fmt.Errorf("%w: broadcast escalation: %v", errs.ErrRPCFailure, sendErr)
	}

	hash := signed.Hash()
	_, err = p.store.ReplaceAttempt(ctx, a.ID, &model.PostAttempt{
		BatchID:      a.BatchID,
		L1TxHash:     &hash,
		L1Nonce:      a.L1Nonce,
		GasPrice:     escalated,
		MaxFeePerGas: escalated,
		SubmittedAt:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("poster: replace attempt: %w", err)
	}
	log.Info("poster: escalated attempt", "batchId", a.BatchID, "oldAttemptId", a.ID, "newFee", escalated)
	return nil
}

// escalateFee computes prev * rate at uint256 precision.
func escalateFee(prev *uint256.Int, rate float64) *uint256.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(prev.ToBig()), big.NewFloat(rate))
	out, _ := scaled.Int(nil)
	v, overflow := uint256.FromBig(out)
	if overflow {
		return uint256.NewInt(0).SetAllOne()
	}
	return v
}

func mustUint256(v *big.Int) *uint256.Int {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return uint256.NewInt(0).SetAllOne()
	}
	return u
}

// abandonBatch implements spec.md §4.4: once a batch's live attempt reaches
// a terminal non-mined state with no recourse, the batch is set to failed
// and left for a human operator to notice via metrics; member transactions
// are deliberately left untouched (see §7).
func (p *Poster) abandonBatch(ctx context.Context, batchID int64, cause error) error {
	if err := p.store.FailBatch(ctx, batchID); err != nil {
		log.Error("poster: mark batch failed", "batchId", batchID, "err", err)
	}
	p.metrics.IncBatchesFailed()
	log.Error("poster: batch abandoned", "batchId", batchID, "cause", cause)
	return fmt.Errorf("%w: %v", errs.ErrBatchAbandoned, cause)
}

// isHardFailure reports whether a broadcast error is terminal (no amount of
// retrying or fee escalation will help), per spec.md §4.4.
func isHardFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "invalid signature") ||
		strings.Contains(msg, "execution reverted")
}

// isAlreadyKnown implements spec.md §4.4's "Failure semantics": an explicit
// nonce-too-low/known-transaction/already-imported response on submission is
// treated as success, since the attempt is now the network's responsibility.
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "known transaction") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "already imported")
}
