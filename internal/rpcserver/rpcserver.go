// Package rpcserver implements the external interface from SPEC_FULL.md §6:
// a JSON-RPC 2.0 POST / handler for the four sequencer-owned methods, a
// verbatim proxy to the L2 execution engine for everything else, and the
// plain HTTP /health and /metrics endpoints. Routing uses
// github.com/julienschmidt/httprouter and github.com/rs/cors, the same
// transport dependencies the teacher's own rpc package pulls in for its
// HTTP server.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/0xfacet/facet-sequencer/internal/config"
	"github.com/0xfacet/facet-sequencer/internal/errs"
	"github.com/0xfacet/facet-sequencer/internal/model"
	"github.com/0xfacet/facet-sequencer/internal/store"
)

// Ingress is the subset of *ingress.Ingress the RPC server needs.
type Ingress interface {
	HandleRawTx(ctx context.Context, rawHex string) (common.Hash, error)
}

// Store is the subset of *store.Store the RPC server needs.
type Store interface {
	GetTransactionByHash(ctx context.Context, hash common.Hash) (*model.Transaction, error)
	GetBatch(ctx context.Context, id int64) (*model.Batch, error)
	LiveAttempt(ctx context.Context, batchID int64) (*model.PostAttempt, error)
	GetStats(ctx context.Context) (store.Stats, error)
	PendingCount(ctx context.Context) (int, error)
	LastL1Confirmation(ctx context.Context) (*time.Time, error)
}

// L2Proxy is the raw JSON-RPC client every non-sequencer method is forwarded
// to verbatim.
type L2Proxy interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Server wires Ingress and the Store to the JSON-RPC and HTTP surface.
type Server struct {
	cfg     *config.Config
	ingress Ingress
	store   Store
	l2      L2Proxy
	started time.Time
}

// New builds a Server. started is recorded as process start time for the
// health endpoint's uptime field.
func New(cfg *config.Config, ing Ingress, s Store, l2 L2Proxy) *Server {
	return &Server{cfg: cfg, ingress: ing, store: s, l2: l2, started: time.Now()}
}

// Handler returns the fully wired http.Handler: CORS-wrapped httprouter
// covering POST /, GET /health, and the caller's /metrics handler.
func (srv *Server) Handler(metricsHandler http.Handler) http.Handler {
	router := httprouter.New()
	router.POST("/", srv.handleRPC)
	router.GET("/health", srv.handleHealth)
	if metricsHandler != nil {
		router.Handler(http.MethodGet, "/metrics", metricsHandler)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(router)
}

// --- JSON-RPC 2.0 envelope -------------------------------------------------

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (srv *Server) handleRPC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, -32700, "parse error")
		return
	}

	result, rpcErr := srv.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	writeRPCResult(w, req.ID, result)
}

func (srv *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "eth_sendRawTransaction":
		return srv.sendRawTransaction(ctx, params)
	case "eth_chainId":
		return fmt.Sprintf("0x%x", srv.cfg.L2ChainID), nil
	case "sequencer_getTxStatus":
		return srv.getTxStatus(ctx, params)
	case "sequencer_getStats":
		return srv.getStats(ctx)
	default:
		return srv.proxy(ctx, method, params)
	}
}

func (srv *Server) sendRawTransaction(ctx context.Context, params json.RawMessage) (interface{}, *rpcError) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, &rpcError{Code: -32602, Message: "expected [raw_hex]"}
	}

	hash, err := srv.ingress.HandleRawTx(ctx, args[0])
	if err != nil {
		return nil, classifyIngressErr(err)
	}
	return hash.Hex(), nil
}

type txStatusResult struct {
	Status         string  `json:"status"`
	BatchID        *int64  `json:"batchId,omitempty"`
	BatchState     *string `json:"batchState,omitempty"`
	SubmissionMode *string `json:"submissionMode,omitempty"`
	L1TxHash       *string `json:"l1TxHash,omitempty"`
	DARequestID    *string `json:"daRequestId,omitempty"`
	L1Block        *uint64 `json:"l1Block,omitempty"`
	L2Block        *uint64 `json:"l2Block,omitempty"`
	DropReason     *string `json:"dropReason,omitempty"`
}

func (srv *Server) getTxStatus(ctx context.Context, params json.RawMessage) (interface{}, *rpcError) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, &rpcError{Code: -32602, Message: "expected [tx_hash]"}
	}

	tx, err := srv.store.GetTransactionByHash(ctx, common.HexToHash(args[0]))
	if err != nil {
		return txStatusResult{Status: "unknown"}, nil
	}

	result := txStatusResult{Status: string(tx.State), DropReason: tx.DropReason, L2Block: tx.L2BlockNumber}
	if tx.BatchID == nil {
		return result, nil
	}
	result.BatchID = tx.BatchID

	batch, err := srv.store.GetBatch(ctx, *tx.BatchID)
	if err != nil {
		return result, nil
	}
	state := string(batch.State)
	result.BatchState = &state

	attempt, err := srv.store.LiveAttempt(ctx, batch.ID)
	if err != nil {
		return result, nil
	}
	mode := "direct"
	if attempt.IsAggregator() {
		mode = "aggregator"
		result.DARequestID = attempt.AggregatorRequestID
	} else if attempt.L1TxHash != nil {
		hash := attempt.L1TxHash.Hex()
		result.L1TxHash = &hash
	}
	result.SubmissionMode = &mode
	result.L1Block = attempt.BlockNumber
	return result, nil
}

func (srv *Server) getStats(ctx context.Context) (interface{}, *rpcError) {
	stats, err := srv.store.GetStats(ctx)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return map[string]int{
		"queued_txs":        stats.QueuedTxs,
		"included_txs":      stats.IncludedTxs,
		"dropped_txs":       stats.DroppedTxs,
		"confirmed_batches": stats.ConfirmedBatches,
		"pending_batches":   stats.PendingBatches,
	}, nil
}

func (srv *Server) proxy(ctx context.Context, method string, params json.RawMessage) (interface{}, *rpcError) {
	if srv.l2 == nil {
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
	var args []interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
	}
	var result json.RawMessage
	if err := srv.l2.CallContext(ctx, &result, method, args...); err != nil {
		if rpcErr, ok := err.(rpc.Error); ok {
			return nil, &rpcError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		}
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return result, nil
}

func classifyIngressErr(err error) *rpcError {
	switch {
	case isErr(err, errs.ErrBusy):
		return &rpcError{Code: -32000, Message: "Sequencer busy"}
	case isErr(err, errs.ErrUnderpriced):
		return &rpcError{Code: -32000, Message: "Underpriced"}
	case isErr(err, errs.ErrMalformedInput):
		return &rpcError{Code: -32602, Message: err.Error()}
	default:
		return &rpcError{Code: -32000, Message: err.Error()}
	}
}

func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

// --- health -----------------------------------------------------------------

type healthResult struct {
	Healthy           bool       `json:"healthy"`
	Uptime            string     `json:"uptime"`
	QueuedTxs         int        `json:"queuedTxs"`
	PendingBatches    int        `json:"pendingBatches"`
	LastL1Confirmation *time.Time `json:"lastL1Confirmation"`
}

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()

	queued, err := srv.store.PendingCount(ctx)
	if err != nil {
		log.Warn("rpcserver: health pending count failed", "err", err)
	}
	stats, err := srv.store.GetStats(ctx)
	if err != nil {
		log.Warn("rpcserver: health stats failed", "err", err)
	}
	lastConfirmation, err := srv.store.LastL1Confirmation(ctx)
	if err != nil {
		log.Warn("rpcserver: health last confirmation failed", "err", err)
	}

	healthy := queued < srv.cfg.MaxPendingTxs
	if healthy && lastConfirmation != nil && time.Since(*lastConfirmation) > srv.cfg.UnhealthyConfirmationAge {
		healthy = false
	}

	result := healthResult{
		Healthy:            healthy,
		Uptime:             time.Since(srv.started).String(),
		QueuedTxs:          queued,
		PendingBatches:     stats.PendingBatches,
		LastL1Confirmation: lastConfirmation,
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(result)
}
