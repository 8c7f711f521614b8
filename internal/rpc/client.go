// Package rpc talks to a Neptune full node over its HTTP-JSON-RPC surface.
// It plays the role rivine's pkg/client/http.go plays for the rivine
// daemon's REST API: a thin HTTPClient wrapping net/http with status-code
// and error-envelope handling, except here the wire format is JSON-RPC 2.0
// (single POST endpoint, method+params) rather than a REST path per call,
// since that is the interface the full node exposes.
package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

// RemoteNode is kelp's view of the full node it scans against and submits
// transactions to. Every method may block on network I/O and must be
// cancellable through ctx.
type RemoteNode interface {
	// Height returns the node's current tip height.
	Height(ctx context.Context) (neptune.BlockHeight, error)

	// GetBlockTransactionKernel returns the public transaction kernel
	// (announcements, outputs, fee) for the block at height.
	GetBlockTransactionKernel(ctx context.Context, height neptune.BlockHeight) (neptune.TransactionKernel, error)

	// GetBlockBody returns the block body at height, including the mutator
	// set accumulator snapshot as of that block.
	GetBlockBody(ctx context.Context, height neptune.BlockHeight) (neptune.BlockBody, error)

	// RestoreMembershipProof asks the node to bring a stale membership
	// proof for item back up to date against its current mutator set
	// state.
	RestoreMembershipProof(ctx context.Context, item neptune.Digest, proof neptune.MsMembershipProof) (neptune.MsMembershipProof, error)

	// GetUtxoDigest returns the UTXO commitment digest at AOCL leaf index
	// idx.
	GetUtxoDigest(ctx context.Context, idx uint64) (neptune.Digest, error)

	// SubmitTransaction broadcasts a fully proven transaction to the
	// node's mempool.
	SubmitTransaction(ctx context.Context, kernel neptune.TransactionKernel, proof neptune.ProofCollection) error
}

// HTTPClient is the production RemoteNode, a JSON-RPC 2.0 client over
// net/http with an LRU cache in front of the (read-only, content-addressed)
// GetUtxoDigest lookups.
type HTTPClient struct {
	endpoint string
	http     *http.Client
	digests  *lru.Cache[uint64, neptune.Digest]
	nextID   atomic.Uint64
}

// DigestCacheSize bounds the number of (leaf index -> digest) lookups kept
// in memory.
const DigestCacheSize = 4096

// NewHTTPClient constructs a RemoteNode client against endpoint (e.g.
// "http://127.0.0.1:9799/rpc"), using timeout as the per-call deadline.
func NewHTTPClient(endpoint string, timeout time.Duration) (*HTTPClient, error) {
	cache, err := lru.New[uint64, neptune.Digest](DigestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("rpc: allocate digest cache: %w", err)
	}
	return &HTTPClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		digests:  cache,
	}, nil
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("rpc: node returned error %d: %s", e.Code, e.Message)
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

// call issues one JSON-RPC request and decodes its result into out (which
// may be nil for calls with no meaningful result).
func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpc: encode params for %s: %w", method, err)
		}
		rawParams = encoded
	}

	reqBody, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("rpc: encode request for %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("rpc: build request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s: no response from node: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rpc: %s: read response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("rpc: %s: node returned HTTP %d: %s", method, resp.StatusCode, body)
	}

	var envelope jsonRPCResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("rpc: %s: decode envelope: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("rpc: %s: decode result: %w", method, err)
	}
	return nil
}

type heightResult struct {
	Height uint64 `json:"height"`
}

// Height implements RemoteNode.
func (c *HTTPClient) Height(ctx context.Context) (neptune.BlockHeight, error) {
	var res heightResult
	if err := c.call(ctx, "height", nil, &res); err != nil {
		return 0, err
	}
	return neptune.BlockHeight(res.Height), nil
}

type wireAnnouncement struct {
	Message []uint64 `json:"message"`
}

type wireOutput struct {
	Commitment string `json:"commitment"`
}

type wireKernel struct {
	Announcements []wireAnnouncement `json:"announcements"`
	Outputs       []wireOutput       `json:"outputs"`
	FeeNau        uint64             `json:"fee_nau"`
	Timestamp     uint64             `json:"timestamp"`
}

// GetBlockTransactionKernel implements RemoteNode.
func (c *HTTPClient) GetBlockTransactionKernel(ctx context.Context, height neptune.BlockHeight) (neptune.TransactionKernel, error) {
	var res wireKernel
	if err := c.call(ctx, "get_block_transaction_kernel", []uint64{uint64(height)}, &res); err != nil {
		return neptune.TransactionKernel{}, err
	}
	kernel := neptune.TransactionKernel{
		Fee:       neptune.AmountFromNau(res.FeeNau),
		Timestamp: res.Timestamp,
	}
	for _, a := range res.Announcements {
		kernel.Announcements = append(kernel.Announcements, neptune.Announcement{Message: a.Message})
	}
	for _, o := range res.Outputs {
		digest, err := neptune.DigestFromHex(o.Commitment)
		if err != nil {
			return neptune.TransactionKernel{}, fmt.Errorf("rpc: get_block_transaction_kernel: %w", err)
		}
		kernel.Outputs = append(kernel.Outputs, neptune.TransactionOutput{Commitment: digest})
	}
	return kernel, nil
}

type wireBlockBody struct {
	AOCLLeafCount uint64 `json:"aocl_leaf_count"`
	AccRoot       string `json:"accumulator_root"`
}

// GetBlockBody implements RemoteNode.
func (c *HTTPClient) GetBlockBody(ctx context.Context, height neptune.BlockHeight) (neptune.BlockBody, error) {
	var res wireBlockBody
	if err := c.call(ctx, "get_block_body", []uint64{uint64(height)}, &res); err != nil {
		return neptune.BlockBody{}, err
	}
	root, err := neptune.DigestFromHex(res.AccRoot)
	if err != nil {
		return neptune.BlockBody{}, fmt.Errorf("rpc: get_block_body: %w", err)
	}
	return neptune.BlockBody{
		MutatorSetAccumulator: neptune.NewMutatorSetAccumulator(res.AOCLLeafCount, root),
	}, nil
}

type wireMembershipProof struct {
	SenderRandomness string            `json:"sender_randomness"`
	ReceiverPreimage string            `json:"receiver_preimage"`
	AoclLeafIndex    uint64            `json:"aocl_leaf_index"`
	AuthPathAOCL     []string          `json:"auth_path_aocl"`
	TargetChunks     map[string]string `json:"target_chunks"`
}

func decodeWireProof(w wireMembershipProof) (neptune.MsMembershipProof, error) {
	sr, err := neptune.DigestFromHex(w.SenderRandomness)
	if err != nil {
		return neptune.MsMembershipProof{}, err
	}
	rp, err := neptune.DigestFromHex(w.ReceiverPreimage)
	if err != nil {
		return neptune.MsMembershipProof{}, err
	}
	proof := neptune.MsMembershipProof{
		SenderRandomness: sr,
		ReceiverPreimage: rp,
		AoclLeafIndex:    w.AoclLeafIndex,
		TargetChunks:     neptune.ChunkDictionary{},
	}
	for _, hex := range w.AuthPathAOCL {
		d, err := neptune.DigestFromHex(hex)
		if err != nil {
			return neptune.MsMembershipProof{}, err
		}
		proof.AuthPathAOCL = append(proof.AuthPathAOCL, d)
	}
	return proof, nil
}

func encodeWireProof(p neptune.MsMembershipProof) wireMembershipProof {
	w := wireMembershipProof{
		SenderRandomness: p.SenderRandomness.Hex(),
		ReceiverPreimage: p.ReceiverPreimage.Hex(),
		AoclLeafIndex:    p.AoclLeafIndex,
	}
	for _, d := range p.AuthPathAOCL {
		w.AuthPathAOCL = append(w.AuthPathAOCL, d.Hex())
	}
	return w
}

type restoreParams struct {
	Item  string              `json:"item"`
	Proof wireMembershipProof `json:"proof"`
}

// RestoreMembershipProof implements RemoteNode.
func (c *HTTPClient) RestoreMembershipProof(ctx context.Context, item neptune.Digest, proof neptune.MsMembershipProof) (neptune.MsMembershipProof, error) {
	var res wireMembershipProof
	params := restoreParams{Item: item.Hex(), Proof: encodeWireProof(proof)}
	if err := c.call(ctx, "restore_membership_proof", params, &res); err != nil {
		return neptune.MsMembershipProof{}, err
	}
	return decodeWireProof(res)
}

type digestResult struct {
	Digest string `json:"digest"`
}

// GetUtxoDigest implements RemoteNode, consulting the local LRU cache
// first, since the digest at a given leaf index does not change once
// recorded.
func (c *HTTPClient) GetUtxoDigest(ctx context.Context, idx uint64) (neptune.Digest, error) {
	if d, ok := c.digests.Get(idx); ok {
		return d, nil
	}
	var res digestResult
	if err := c.call(ctx, "get_utxo_digest", []uint64{idx}, &res); err != nil {
		return neptune.Digest{}, err
	}
	d, err := neptune.DigestFromHex(res.Digest)
	if err != nil {
		return neptune.Digest{}, fmt.Errorf("rpc: get_utxo_digest: %w", err)
	}
	c.digests.Add(idx, d)
	return d, nil
}

type wireProofCollection struct {
	RemovalRecordsIntegrity string   `json:"removal_records_integrity"`
	CollectLockScripts      string   `json:"collect_lock_scripts"`
	KernelToOutputs         string   `json:"kernel_to_outputs"`
	CollectTypeScripts      string   `json:"collect_type_scripts"`
	LockScriptProofs        []string `json:"lock_script_proofs"`
	TypeScriptProofs        []string `json:"type_script_proofs"`
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func encodeWireProofCollection(p neptune.ProofCollection) wireProofCollection {
	w := wireProofCollection{
		RemovalRecordsIntegrity: hexEncode(p.RemovalRecordsIntegrity),
		CollectLockScripts:      hexEncode(p.CollectLockScripts),
		KernelToOutputs:         hexEncode(p.KernelToOutputs),
		CollectTypeScripts:      hexEncode(p.CollectTypeScripts),
	}
	for _, b := range p.LockScriptProofs {
		w.LockScriptProofs = append(w.LockScriptProofs, hexEncode(b))
	}
	for _, b := range p.TypeScriptProofs {
		w.TypeScriptProofs = append(w.TypeScriptProofs, hexEncode(b))
	}
	return w
}

type submitParams struct {
	Kernel wireKernel          `json:"kernel"`
	Proof  wireProofCollection `json:"proof"`
}

// SubmitTransaction implements RemoteNode.
func (c *HTTPClient) SubmitTransaction(ctx context.Context, kernel neptune.TransactionKernel, proof neptune.ProofCollection) error {
	wk := wireKernel{FeeNau: kernel.Fee.Nau, Timestamp: kernel.Timestamp}
	for _, a := range kernel.Announcements {
		wk.Announcements = append(wk.Announcements, wireAnnouncement{Message: a.Message})
	}
	for _, o := range kernel.Outputs {
		wk.Outputs = append(wk.Outputs, wireOutput{Commitment: o.Commitment.Hex()})
	}
	return c.call(ctx, "submit_transaction", submitParams{Kernel: wk, Proof: encodeWireProofCollection(proof)}, nil)
}
