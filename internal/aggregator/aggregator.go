// Package aggregator binds spec.md's "DA aggregator service" external
// collaborator to a small net/http JSON client, styled after the corpus's
// pattern of wrapping an HTTP/RPC source behind a narrow interface with a
// log.Logger injected
// (other_examples/3b42db6d_EspressoSystems-op-espresso-integration__op-service-sources-l1_client.go.go).
package aggregator

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// SubmitRequest is the payload handed to the aggregator: the wire-framed
// batch plus the proposer address that will ultimately sign the L1
// transaction on this rollup's behalf (spec.md §4.4 "Aggregator posting").
type SubmitRequest struct {
	ProposerAddress string
	WireFormat      []byte
}

// Client is the aggregator surface the Poster needs.
type Client interface {
	SubmitBatch(ctx context.Context, req SubmitRequest) (requestID string, err error)
	Status(ctx context.Context, requestID string) (*StatusResponse, error)
}

// StatusResponse reports what the aggregator has done with a submitted
// batch, used to discover the eventual l1_tx_hash (spec.md §4.4).
type StatusResponse struct {
	RequestID string  `json:"requestId"`
	L1TxHash  *string `json:"l1TxHash,omitempty"`
	Included  bool    `json:"included"`
}

type httpClient struct {
	baseURL string
	hc      *http.Client
}

// New builds an aggregator Client talking to baseURL.
func New(baseURL string) Client {
	return &httpClient{baseURL: baseURL, hc: &http.Client{Timeout: 30 * time.Second}}
}

type submitBody struct {
	ProposerAddress string `json:"proposerAddress"`
	WireFormatHex   string `json:"wireFormat"`
}

type submitResponse struct {
	RequestID string `json:"requestId"`
}

func (c *httpClient) SubmitBatch(ctx context.Context, req SubmitRequest) (string, error) {
	body, err := json.Marshal(submitBody{
		ProposerAddress: req.ProposerAddress,
		WireFormatHex:   "0x" + hex.EncodeToString(req.WireFormat),
	})
	if err != nil {
		return "", fmt.Errorf("aggregator: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batches", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("aggregator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("aggregator: submit batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("aggregator: unexpected status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("aggregator: decode response: %w", err)
	}
	log.Info("aggregator: submitted batch", "requestId", out.RequestID)
	return out.RequestID, nil
}

func (c *httpClient) Status(ctx context.Context, requestID string) (*StatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/batches/"+requestID, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregator: build request: %w", err)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aggregator: status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator: unexpected status %d", resp.StatusCode)
	}

	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("aggregator: decode status: %w", err)
	}
	return &out, nil
}
