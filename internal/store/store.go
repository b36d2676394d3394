// Package store implements the single durable state store described in
// SPEC_FULL.md §4.1: transactions, batches, and post_attempts in one SQLite
// file, mutated exclusively inside serializable transactions so the
// invariants in spec.md §3 hold on every exit path.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"

	"github.com/0xfacet/facet-sequencer/internal/errs"
	"github.com/0xfacet/facet-sequencer/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the single-writer, crash-safe persistence layer. writeDB holds
// exactly one connection so "single writer" is structural, not advisory;
// readDB may hold several for concurrent status queries.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB

	busyTimeout time.Duration
}

// Open opens (creating if absent) the SQLite file at path, applies
// migrations, and configures WAL + busy_timeout per spec.md §4.1.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: open read handle: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	s := &Store{writeDB: writeDB, readDB: readDB, busyTimeout: busyTimeout}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("store: read migration %s: %w", name, err)
		}
		if _, err := s.writeDB.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("store: apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Close releases both connection pools. Safe to call more than once.
func (s *Store) Close() error {
	var errs []error
	if s.writeDB != nil {
		if err := s.writeDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("store: close: %v", errs)
	}
	return nil
}

// withTx runs fn inside a serializable write transaction, translating
// SQLite's busy/constraint failures into the sentinel kinds from
// SPEC_FULL.md §7 and mapping the busy-timeout bound from spec.md §4.1.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.busyTimeout)
	defer cancel()

	tx, err := s.writeDB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classifyErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classifyErr(err)
	}
	if err := tx.Commit(); err != nil {
		return classifyErr(err)
	}
	return nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", errs.ErrBusy, err)
	case strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked"):
		return fmt.Errorf("%w: %v", errs.ErrBusy, err)
	case strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %v", errs.ErrConstraintConflict, err)
	default:
		return err
	}
}

// --- Transactions --------------------------------------------------------

// MaxReceivedSeq returns 1 + the highest received_seq ever stored, or 1 if
// the pool is empty, so the process can re-derive its monotonic counter on
// restart (spec.md §9, "Shared mutable state").
func (s *Store) MaxReceivedSeq(ctx context.Context) (uint64, error) {
	var max sql.NullInt64
	row := s.readDB.QueryRowContext(ctx, `SELECT MAX(received_seq) FROM transactions`)
	if err := row.Scan(&max); err != nil {
		return 0, classifyErr(err)
	}
	if !max.Valid {
		return 1, nil
	}
	return uint64(max.Int64) + 1, nil
}

// GetTransactionByHash returns the transaction stored under hash, or
// ErrNotFound.
func (s *Store) GetTransactionByHash(ctx context.Context, hash common.Hash) (*model.Transaction, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE hash = ?`, hash.Hex())
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, classifyErr(err)
	}
	return tx, nil
}

// PendingCount returns the number of transactions in {queued, requeued},
// used by Ingress back-pressure (spec.md §4.2) and the health endpoint.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	row := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE state IN ('queued', 'requeued')`)
	if err := row.Scan(&n); err != nil {
		return 0, classifyErr(err)
	}
	return n, nil
}

// InsertResult reports what InsertOrReplace actually did, for the Ingress
// idempotency/replace-by-fee rules in spec.md §4.2.
type InsertResult struct {
	Hash     common.Hash
	Replaced bool
	Existed  bool
}

// InsertOrReplace implements the admission rules of spec.md §4.2, executed
// in one store transaction: idempotent on a duplicate hash, replace-by-fee
// against any queued transaction with the same (from, nonce), else insert.
func (s *Store) InsertOrReplace(ctx context.Context, tx *model.Transaction) (InsertResult, error) {
	var result InsertResult

	err := s.withTx(ctx, func(dbTx *sql.Tx) error {
		existing, err := scanTransaction(dbTx.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE hash = ?`, tx.Hash.Hex()))
		if err == nil {
			result = InsertResult{Hash: existing.Hash, Replaced: false, Existed: true}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		rival, err := scanTransaction(dbTx.QueryRowContext(ctx,
			`SELECT `+txColumns+` FROM transactions WHERE from_address = ? AND nonce = ? AND state = 'queued'`,
			strings.ToLower(tx.FromAddress.Hex()), tx.Nonce))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			if tx.MaxFeePerGas.Cmp(rival.MaxFeePerGas) <= 0 {
				return fmt.Errorf("%w: new fee %s does not exceed existing fee %s", errs.ErrUnderpriced, tx.MaxFeePerGas, rival.MaxFeePerGas)
			}
			if _, err := dbTx.ExecContext(ctx, `DELETE FROM transactions WHERE hash = ?`, rival.Hash.Hex()); err != nil {
				return err
			}
		}

		var nextSeq int64
		if err := dbTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(received_seq), 0) + 1 FROM transactions`).Scan(&nextSeq); err != nil {
			return err
		}
		tx.ReceivedSeq = uint64(nextSeq)
		tx.State = model.TxQueued

		if _, err := dbTx.ExecContext(ctx, insertTxSQL,
			tx.Hash.Hex(), tx.Raw, strings.ToLower(tx.FromAddress.Hex()), tx.Nonce,
			encodeUint256(tx.MaxFeePerGas), encodeUint256(tx.MaxPriorityFeePerGas),
			tx.GasLimit, tx.IntrinsicGas, tx.ReceivedSeq, tx.ReceivedAt.UnixNano(), string(tx.State),
		); err != nil {
			return err
		}

		result = InsertResult{Hash: tx.Hash, Replaced: rival != nil && err == nil, Existed: false}
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return result, nil
}

const insertTxSQL = `INSERT INTO transactions
	(hash, raw, from_address, nonce, max_fee_per_gas, max_priority_fee_per_gas, gas_limit, intrinsic_gas, received_seq, received_at, state)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const txColumns = `hash, raw, from_address, nonce, max_fee_per_gas, max_priority_fee_per_gas, gas_limit, intrinsic_gas, received_seq, received_at, state, batch_id, l2_block_number, l2_block_hash, drop_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		hashHex, fromHex, state                    string
		raw                                         []byte
		maxFee                                      string
		maxPriority                                 sql.NullString
		gasLimit, intrinsicGas, nonce, receivedSeq  int64
		receivedAt                                  int64
		batchID, l2BlockNumber                      sql.NullInt64
		l2BlockHash, dropReason                     sql.NullString
	)
	if err := row.Scan(&hashHex, &raw, &fromHex, &nonce, &maxFee, &maxPriority, &gasLimit, &intrinsicGas, &receivedSeq, &receivedAt, &state, &batchID, &l2BlockNumber, &l2BlockHash, &dropReason); err != nil {
		return nil, err
	}

	maxFeeVal, err := decodeUint256(maxFee)
	if err != nil {
		return nil, err
	}
	var maxPriorityVal *uint256.Int
	if maxPriority.Valid {
		maxPriorityVal, err = decodeUint256(maxPriority.String)
		if err != nil {
			return nil, err
		}
	}

	t := &model.Transaction{
		Hash:                 common.HexToHash(hashHex),
		Raw:                  raw,
		FromAddress:          common.HexToAddress(fromHex),
		Nonce:                uint64(nonce),
		MaxFeePerGas:         maxFeeVal,
		MaxPriorityFeePerGas: maxPriorityVal,
		GasLimit:             uint64(gasLimit),
		IntrinsicGas:         uint64(intrinsicGas),
		ReceivedSeq:          uint64(receivedSeq),
		ReceivedAt:           time.Unix(0, receivedAt),
		State:                model.TxState(state),
	}
	if batchID.Valid {
		v := batchID.Int64
		t.BatchID = &v
	}
	if l2BlockNumber.Valid {
		v := uint64(l2BlockNumber.Int64)
		t.L2BlockNumber = &v
	}
	if l2BlockHash.Valid {
		t.L2BlockHash = parseHashPtr(&l2BlockHash.String)
	}
	if dropReason.Valid {
		t.DropReason = &dropReason.String
	}
	return t, nil
}

// PendingForSelection returns every {queued, requeued} transaction ordered
// by max_fee_per_gas descending, received_seq ascending — the exact order
// the Batch Maker's selection scan (spec.md §4.3) requires.
func (s *Store) PendingForSelection(ctx context.Context) ([]*model.Transaction, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT `+txColumns+` FROM transactions
		WHERE state IN ('queued', 'requeued')
		ORDER BY max_fee_per_gas DESC, received_seq ASC`)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classifyErr(err)
		}
		out = append(out, t)
	}
	return out, classifyErr(rows.Err())
}

// --- Batches ---------------------------------------------------------

// SealBatch atomically inserts a new batch, links the selected member
// transactions to it, and flips it to sealed, per the seal algorithm in
// spec.md §4.3 and the cyclic-FK resolution in spec.md §9.
func (s *Store) SealBatch(ctx context.Context, b *model.Batch, memberHashes []common.Hash) (*model.Batch, error) {
	err := s.withTx(ctx, func(dbTx *sql.Tx) error {
		txHashesJSON, err := json.Marshal(hashesToHex(memberHashes))
		if err != nil {
			return err
		}

		res, err := dbTx.ExecContext(ctx, `INSERT INTO batches
			(content_hash, wire_format, state, blob_size, gas_bid, tx_count, target_l1_block, tx_hashes)
			VALUES (?, ?, 'open', ?, ?, ?, ?, ?)`,
			b.ContentHash.Hex(), b.WireFormat, b.BlobSize, encodeUint256(b.GasBid), len(memberHashes), b.TargetL1Block, string(txHashesJSON))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		b.ID = id

		for _, h := range memberHashes {
			r, err := dbTx.ExecContext(ctx, `UPDATE transactions SET state = 'batched', batch_id = ? WHERE hash = ? AND state IN ('queued', 'requeued')`, id, h.Hex())
			if err != nil {
				return err
			}
			n, err := r.RowsAffected()
			if err != nil {
				return err
			}
			if n != 1 {
				return fmt.Errorf("%w: member transaction %s was not in a batchable state", errs.ErrConstraintConflict, h.Hex())
			}
		}

		now := time.Now()
		if _, err := dbTx.ExecContext(ctx, `UPDATE batches SET state = 'sealed', sealed_at = ? WHERE id = ?`, now.UnixNano(), id); err != nil {
			return err
		}
		b.State = model.BatchSealed
		b.SealedAt = &now
		b.TxCount = len(memberHashes)
		b.TxHashes = memberHashes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func hashesToHex(hs []common.Hash) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Hex()
	}
	return out
}

// GetBatchByContentHash looks up a batch by its content hash, used by the
// Batch Maker's dedup check (spec.md §4.3).
func (s *Store) GetBatchByContentHash(ctx context.Context, hash common.Hash) (*model.Batch, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE content_hash = ?`, hash.Hex())
	b, err := scanBatch(row)
	if err != nil {
		return nil, classifyErr(err)
	}
	return b, nil
}

// GetBatch returns a batch by id.
func (s *Store) GetBatch(ctx context.Context, id int64) (*model.Batch, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err != nil {
		return nil, classifyErr(err)
	}
	return b, nil
}

// BatchesInState returns every batch currently in one of the given states,
// used by the Poster tick to pick up sealed-but-unsubmitted batches and by
// the Monitor's L1 loop.
func (s *Store) BatchesInState(ctx context.Context, states ...model.BatchState) ([]*model.Batch, error) {
	placeholders := make([]string, len(states))
	args := make([]any, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	q := fmt.Sprintf(`SELECT %s FROM batches WHERE state IN (%s) ORDER BY id ASC`, batchColumns, strings.Join(placeholders, ","))
	rows, err := s.readDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []*model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, classifyErr(err)
		}
		out = append(out, b)
	}
	return out, classifyErr(rows.Err())
}

const batchColumns = `id, content_hash, wire_format, state, sealed_at, blob_size, gas_bid, tx_count, target_l1_block, tx_hashes`

func scanBatch(row rowScanner) (*model.Batch, error) {
	var (
		id, blobSize, txCount, targetL1Block int64
		contentHash, state, txHashesJSON     string
		wireFormat                           []byte
		sealedAt                             sql.NullInt64
		gasBid                               sql.NullString
	)
	if err := row.Scan(&id, &contentHash, &wireFormat, &state, &sealedAt, &blobSize, &gasBid, &txCount, &targetL1Block, &txHashesJSON); err != nil {
		return nil, err
	}

	var hexHashes []string
	if err := json.Unmarshal([]byte(txHashesJSON), &hexHashes); err != nil {
		return nil, fmt.Errorf("store: decode tx_hashes: %w", err)
	}
	hashes := make([]common.Hash, len(hexHashes))
	for i, h := range hexHashes {
		hashes[i] = common.HexToHash(h)
	}

	b := &model.Batch{
		ID:            id,
		ContentHash:   common.HexToHash(contentHash),
		WireFormat:    wireFormat,
		State:         model.BatchState(state),
		BlobSize:      int(blobSize),
		TxCount:       int(txCount),
		TargetL1Block: uint64(targetL1Block),
		TxHashes:      hashes,
	}
	if sealedAt.Valid {
		t := time.Unix(0, sealedAt.Int64)
		b.SealedAt = &t
	}
	if gasBid.Valid {
		v, err := decodeUint256(gasBid.String)
		if err != nil {
			return nil, err
		}
		b.GasBid = v
	}
	return b, nil
}

// SetBatchState transitions a batch to newState unconditionally (used for
// submitted/failed/finalized transitions that do not also touch members).
func (s *Store) SetBatchState(ctx context.Context, id int64, newState model.BatchState) error {
	return s.withTx(ctx, func(dbTx *sql.Tx) error {
		_, err := dbTx.ExecContext(ctx, `UPDATE batches SET state = ? WHERE id = ?`, string(newState), id)
		return err
	})
}

// MarkConfirmed sets an attempt mined and its batch l1_included inside one
// transaction (spec.md §4.4 "Confirmation").
func (s *Store) MarkConfirmed(ctx context.Context, attemptID, batchID int64, blockNumber uint64, blockHash common.Hash) error {
	return s.withTx(ctx, func(dbTx *sql.Tx) error {
		now := time.Now().UnixNano()
		if _, err := dbTx.ExecContext(ctx, `UPDATE post_attempts SET status = 'mined', confirmed_at = ?, block_number = ?, block_hash = ? WHERE id = ?`,
			now, blockNumber, blockHash.Hex(), attemptID); err != nil {
			return err
		}
		_, err := dbTx.ExecContext(ctx, `UPDATE batches SET state = 'l1_included' WHERE id = ?`, batchID)
		return err
	})
}

// MarkReorged flips a confirmed batch and its mined attempt to reorged and
// requeues every member transaction, clearing batch_id (spec.md §4.5).
func (s *Store) MarkReorged(ctx context.Context, batchID, attemptID int64) error {
	return s.withTx(ctx, func(dbTx *sql.Tx) error {
		if _, err := dbTx.ExecContext(ctx, `UPDATE post_attempts SET status = 'reorged' WHERE id = ?`, attemptID); err != nil {
			return err
		}
		if _, err := dbTx.ExecContext(ctx, `UPDATE batches SET state = 'reorged' WHERE id = ?`, batchID); err != nil {
			return err
		}
		_, err := dbTx.ExecContext(ctx,
			`UPDATE transactions SET state = 'requeued', batch_id = NULL
			 WHERE batch_id = ? AND state IN ('batched', 'submitted', 'l1_included')`, batchID)
		return err
	})
}

// MarkFinalized transitions an l1_included batch to finalized once it has
// passed the configured finality depth (spec.md §4.5).
func (s *Store) MarkFinalized(ctx context.Context, batchID int64) error {
	return s.SetBatchState(ctx, batchID, model.BatchFinalized)
}

// FailBatch abandons a batch whose every live attempt reached a terminal
// non-mined state (spec.md §4.4 "Failure semantics"); member transactions
// are deliberately left as-is per spec.md §7 ("transactions are not
// auto-requeued from failed").
func (s *Store) FailBatch(ctx context.Context, batchID int64) error {
	return s.SetBatchState(ctx, batchID, model.BatchFailed)
}

// --- Post attempts ---------------------------------------------------

// RecordAttempt appends a new post_attempts row and, if this is the first
// attempt for the batch, flips it from sealed to submitted (spec.md §4.4
// step 5).
func (s *Store) RecordAttempt(ctx context.Context, a *model.PostAttempt) (*model.PostAttempt, error) {
	err := s.withTx(ctx, func(dbTx *sql.Tx) error {
		res, err := dbTx.ExecContext(ctx, `INSERT INTO post_attempts
			(batch_id, l1_tx_hash, aggregator_request_id, l1_nonce, gas_price, max_fee_per_gas, max_fee_per_blob_gas, submitted_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
			a.BatchID, nullableHash(a.L1TxHash), a.AggregatorRequestID, a.L1Nonce,
			encodeUint256(a.GasPrice), encodeUint256(a.MaxFeePerGas), encodeUint256(a.MaxFeePerBlobGas), a.SubmittedAt.UnixNano())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		a.ID = id
		a.Status = model.AttemptPending

		_, err = dbTx.ExecContext(ctx, `UPDATE batches SET state = 'submitted' WHERE id = ? AND state = 'sealed'`, a.BatchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ReplaceAttempt records a new attempt at an escalated fee for the same L1
// nonce and marks the superseded attempt replaced, forming the RBF chain
// required by spec.md §4.4 / P5.
func (s *Store) ReplaceAttempt(ctx context.Context, oldID int64, next *model.PostAttempt) (*model.PostAttempt, error) {
	err := s.withTx(ctx, func(dbTx *sql.Tx) error {
		res, err := dbTx.ExecContext(ctx, `INSERT INTO post_attempts
			(batch_id, l1_tx_hash, aggregator_request_id, l1_nonce, gas_price, max_fee_per_gas, max_fee_per_blob_gas, submitted_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
			next.BatchID, nullableHash(next.L1TxHash), next.AggregatorRequestID, next.L1Nonce,
			encodeUint256(next.GasPrice), encodeUint256(next.MaxFeePerGas), encodeUint256(next.MaxFeePerBlobGas), next.SubmittedAt.UnixNano())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		next.ID = id
		next.Status = model.AttemptPending

		_, err = dbTx.ExecContext(ctx, `UPDATE post_attempts SET status = 'replaced', replaced_by = ? WHERE id = ?`, id, oldID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// FailAttempt marks an attempt terminally failed with a reason (spec.md
// §4.4 "Failure semantics").
func (s *Store) FailAttempt(ctx context.Context, attemptID int64, reason string) error {
	return s.withTx(ctx, func(dbTx *sql.Tx) error {
		_, err := dbTx.ExecContext(ctx, `UPDATE post_attempts SET status = 'failed', failure_reason = ? WHERE id = ?`, reason, attemptID)
		return err
	})
}

const attemptColumns = `id, batch_id, l1_tx_hash, aggregator_request_id, l1_nonce, gas_price, max_fee_per_gas, max_fee_per_blob_gas, submitted_at, confirmed_at, block_number, block_hash, status, replaced_by, failure_reason`

func scanAttempt(row rowScanner) (*model.PostAttempt, error) {
	var (
		id, batchID, l1Nonce           int64
		l1TxHash, aggregatorRequestID  sql.NullString
		gasPrice, maxFee, maxBlobFee   sql.NullString
		submittedAt                    int64
		confirmedAt, blockNumber       sql.NullInt64
		blockHash                      sql.NullString
		status                         string
		replacedBy                     sql.NullInt64
		failureReason                  sql.NullString
	)
	if err := row.Scan(&id, &batchID, &l1TxHash, &aggregatorRequestID, &l1Nonce, &gasPrice, &maxFee, &maxBlobFee, &submittedAt, &confirmedAt, &blockNumber, &blockHash, &status, &replacedBy, &failureReason); err != nil {
		return nil, err
	}

	a := &model.PostAttempt{
		ID:          id,
		BatchID:     batchID,
		L1Nonce:     uint64(l1Nonce),
		SubmittedAt: time.Unix(0, submittedAt),
		Status:      model.AttemptStatus(status),
	}
	if l1TxHash.Valid {
		a.L1TxHash = parseHashPtr(&l1TxHash.String)
	}
	if aggregatorRequestID.Valid {
		a.AggregatorRequestID = &aggregatorRequestID.String
	}
	var err error
	if gasPrice.Valid {
		if a.GasPrice, err = decodeUint256(gasPrice.String); err != nil {
			return nil, err
		}
	}
	if maxFee.Valid {
		if a.MaxFeePerGas, err = decodeUint256(maxFee.String); err != nil {
			return nil, err
		}
	}
	if maxBlobFee.Valid {
		if a.MaxFeePerBlobGas, err = decodeUint256(maxBlobFee.String); err != nil {
			return nil, err
		}
	}
	if confirmedAt.Valid {
		t := time.Unix(0, confirmedAt.Int64)
		a.ConfirmedAt = &t
	}
	if blockNumber.Valid {
		v := uint64(blockNumber.Int64)
		a.BlockNumber = &v
	}
	if blockHash.Valid {
		a.BlockHash = parseHashPtr(&blockHash.String)
	}
	if replacedBy.Valid {
		v := replacedBy.Int64
		a.ReplacedBy = &v
	}
	if failureReason.Valid {
		a.FailureReason = &failureReason.String
	}
	return a, nil
}

// LiveAttempt returns the newest non-replaced attempt for a batch, or
// ErrNotFound if none exists. "Newest non-replaced" is the attempt RBF and
// confirmation logic must act on (spec.md §4.4).
func (s *Store) LiveAttempt(ctx context.Context, batchID int64) (*model.PostAttempt, error) {
	row := s.readDB.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM post_attempts
		WHERE batch_id = ? AND status != 'replaced'
		ORDER BY id DESC LIMIT 1`, batchID)
	a, err := scanAttempt(row)
	if err != nil {
		return nil, classifyErr(err)
	}
	return a, nil
}

// PendingAttemptsOlderThan returns every attempt with status='pending' and
// submitted_at older than cutoff, the RBF grace-window query of spec.md §4.4.
func (s *Store) PendingAttemptsOlderThan(ctx context.Context, cutoff time.Time) ([]*model.PostAttempt, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT `+attemptColumns+` FROM post_attempts
		WHERE status = 'pending' AND submitted_at <= ?
		ORDER BY submitted_at ASC`, cutoff.UnixNano())
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []*model.PostAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, classifyErr(err)
		}
		out = append(out, a)
	}
	return out, classifyErr(rows.Err())
}

// HighestConfirmedL1Nonce returns the highest l1_nonce among mined attempts,
// used by the Poster to rebuild its nonce cursor after a restart (spec.md
// §4.4 step 3). ok is false if no attempt has ever been mined.
func (s *Store) HighestConfirmedL1Nonce(ctx context.Context) (nonce uint64, ok bool, err error) {
	var n sql.NullInt64
	row := s.readDB.QueryRowContext(ctx, `SELECT MAX(l1_nonce) FROM post_attempts WHERE status = 'mined'`)
	if err := row.Scan(&n); err != nil {
		return 0, false, classifyErr(err)
	}
	if !n.Valid {
		return 0, false, nil
	}
	return uint64(n.Int64), true, nil
}

// OutstandingPendingCount returns the number of attempts currently pending,
// used alongside HighestConfirmedL1Nonce to reserve the next L1 nonce
// (spec.md §4.4 step 3).
func (s *Store) OutstandingPendingCount(ctx context.Context) (int, error) {
	var n int
	row := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM post_attempts WHERE status = 'pending'`)
	if err := row.Scan(&n); err != nil {
		return 0, classifyErr(err)
	}
	return n, nil
}

// --- L2 inclusion -----------------------------------------------------

// MarkL2Included transitions a transaction to l2_included when the
// Inclusion Monitor observes it in an L2 block (spec.md §4.5 "L2 loop").
func (s *Store) MarkL2Included(ctx context.Context, hash common.Hash, blockNumber uint64, blockHash common.Hash) error {
	return s.withTx(ctx, func(dbTx *sql.Tx) error {
		_, err := dbTx.ExecContext(ctx, `UPDATE transactions SET state = 'l2_included', l2_block_number = ?, l2_block_hash = ? WHERE hash = ?`,
			blockNumber, blockHash.Hex(), hash.Hex())
		return err
	})
}

// --- Stats --------------------------------------------------------------

// Stats backs sequencer_getStats (spec.md §6).
type Stats struct {
	QueuedTxs       int
	IncludedTxs     int
	DroppedTxs      int
	ConfirmedBatches int
	PendingBatches  int
}

// GetStats computes the aggregate counters for sequencer_getStats.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE state IN ('queued','requeued')`).Scan(&st.QueuedTxs); err != nil {
		return st, classifyErr(err)
	}
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE state = 'l2_included'`).Scan(&st.IncludedTxs); err != nil {
		return st, classifyErr(err)
	}
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE state = 'dropped'`).Scan(&st.DroppedTxs); err != nil {
		return st, classifyErr(err)
	}
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE state IN ('l1_included','finalized')`).Scan(&st.ConfirmedBatches); err != nil {
		return st, classifyErr(err)
	}
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE state IN ('sealed','submitted')`).Scan(&st.PendingBatches); err != nil {
		return st, classifyErr(err)
	}
	return st, nil
}

// LastL1Confirmation returns the most recent confirmed_at among mined
// attempts, used by the health endpoint's staleness check.
func (s *Store) LastL1Confirmation(ctx context.Context) (*time.Time, error) {
	var confirmedAt sql.NullInt64
	row := s.readDB.QueryRowContext(ctx, `SELECT MAX(confirmed_at) FROM post_attempts WHERE status = 'mined'`)
	if err := row.Scan(&confirmedAt); err != nil {
		return nil, classifyErr(err)
	}
	if !confirmedAt.Valid {
		return nil, nil
	}
	t := time.Unix(0, confirmedAt.Int64)
	return &t, nil
}
