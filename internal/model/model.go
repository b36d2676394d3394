// Package model defines the durable entities shared by every pipeline stage:
// transactions, batches, and post attempts (see SPEC_FULL.md §3).
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TxState is the lifecycle state of a pool transaction.
type TxState string

const (
	TxQueued    TxState = "queued"
	TxBatched   TxState = "batched"
	TxSubmitted TxState = "submitted"
	TxL1Included TxState = "l1_included"
	TxL2Included TxState = "l2_included"
	TxDropped   TxState = "dropped"
	TxRequeued  TxState = "requeued"
)

// Pending reports whether a transaction in this state still competes for a
// batch slot (i.e. is a member of {queued, requeued}).
func (s TxState) Pending() bool {
	return s == TxQueued || s == TxRequeued
}

// Transaction is one pool entry, see SPEC_FULL.md §3.
type Transaction struct {
	Hash                 common.Hash
	Raw                  []byte
	FromAddress          common.Address
	Nonce                uint64
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int // nil for legacy/EIP-2930
	GasLimit             uint64
	IntrinsicGas         uint64
	ReceivedSeq          uint64
	ReceivedAt           time.Time
	State                TxState
	BatchID              *int64
	L2BlockNumber        *uint64
	L2BlockHash          *common.Hash
	DropReason           *string
}

// BatchState is the lifecycle state of a batch.
type BatchState string

const (
	BatchOpen       BatchState = "open"
	BatchSealed     BatchState = "sealed"
	BatchSubmitted  BatchState = "submitted"
	BatchL1Included BatchState = "l1_included"
	BatchReorged    BatchState = "reorged"
	BatchFailed     BatchState = "failed"
	BatchFinalized  BatchState = "finalized"
)

// Batch is one sealed group of transactions framed for L1 commitment.
type Batch struct {
	ID            int64
	ContentHash   common.Hash
	WireFormat    []byte
	State         BatchState
	SealedAt      *time.Time
	BlobSize      int
	GasBid        *uint256.Int
	TxCount       int
	TargetL1Block uint64
	TxHashes      []common.Hash
}

// AttemptStatus is the lifecycle state of one L1 post attempt.
type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptMined    AttemptStatus = "mined"
	AttemptReplaced AttemptStatus = "replaced"
	AttemptReorged  AttemptStatus = "reorged"
	AttemptFailed   AttemptStatus = "failed"
)

// PostAttempt is an append-only row for one L1 submission of a batch.
type PostAttempt struct {
	ID                  int64
	BatchID             int64
	L1TxHash            *common.Hash
	AggregatorRequestID *string
	L1Nonce             uint64
	GasPrice            *uint256.Int
	MaxFeePerGas        *uint256.Int
	MaxFeePerBlobGas    *uint256.Int
	SubmittedAt         time.Time
	ConfirmedAt         *time.Time
	BlockNumber         *uint64
	BlockHash           *common.Hash
	Status              AttemptStatus
	ReplacedBy          *int64
	FailureReason       *string
}

// IsAggregator reports whether this attempt was submitted through the DA
// aggregator rather than signed and broadcast directly.
func (a *PostAttempt) IsAggregator() bool {
	return a.AggregatorRequestID != nil
}
