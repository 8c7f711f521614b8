// Package prover implements neptune.Prover against a remote STARK-proving
// service reachable over the same HTTP-JSON-RPC convention kelp's rpc
// package uses for the full node, since proving a Neptune transaction is
// far too heavyweight for kelp itself to ever do in-process.
package prover

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

	"github.com/kelp-wallet/kelp/internal/neptune"
)

// Client is a neptune.Prover backed by a remote proving service.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64
}

// New constructs a proving-service client against endpoint, with timeout
// as the per-call deadline. Proof generation is CPU-heavy, so timeout
// should be generous relative to an ordinary RPC call.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
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
	return fmt.Sprintf("prover: service returned error %d: %s", e.Code, e.Message)
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}) ([]byte, error) {
	encodedParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("prover: encode params for %s: %w", method, err)
	}

	reqBody, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  encodedParams,
	})
	if err != nil {
		return nil, fmt.Errorf("prover: encode request for %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("prover: build request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prover: %s: no response from proving service: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("prover: %s: read response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("prover: %s: service returned HTTP %d: %s", method, resp.StatusCode, body)
	}

	var envelope jsonRPCResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("prover: %s: decode envelope: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}

	var result struct {
		Proof string `json:"proof"`
	}
	if err := json.Unmarshal(envelope.Result, &result); err != nil {
		return nil, fmt.Errorf("prover: %s: decode result: %w", method, err)
	}
	proof, err := hex.DecodeString(result.Proof)
	if err != nil {
		return nil, fmt.Errorf("prover: %s: decode proof hex: %w", method, err)
	}
	return proof, nil
}

type utxoDigests struct {
	Items []string `json:"items"`
}

func hashAll(utxos []neptune.Utxo) utxoDigests {
	items := make([]string, len(utxos))
	for i, u := range utxos {
		d := u.Hash()
		items[i] = d.Hex()
	}
	return utxoDigests{Items: items}
}

type kernelParams struct {
	MastHash string      `json:"mast_hash"`
	Utxos    utxoDigests `json:"utxos,omitempty"`
}

// ProveRemovalRecordsIntegrity implements neptune.Prover.
func (c *Client) ProveRemovalRecordsIntegrity(ctx context.Context, kernel neptune.TransactionKernel, inputs []neptune.Utxo) ([]byte, error) {
	return c.call(ctx, "prove_removal_records_integrity", kernelParams{MastHash: kernel.MastHash().Hex(), Utxos: hashAll(inputs)})
}

// ProveCollectLockScripts implements neptune.Prover.
func (c *Client) ProveCollectLockScripts(ctx context.Context, kernel neptune.TransactionKernel, inputs []neptune.Utxo) ([]byte, error) {
	return c.call(ctx, "prove_collect_lock_scripts", kernelParams{MastHash: kernel.MastHash().Hex(), Utxos: hashAll(inputs)})
}

// ProveKernelToOutputs implements neptune.Prover.
func (c *Client) ProveKernelToOutputs(ctx context.Context, kernel neptune.TransactionKernel, outputs []neptune.Utxo) ([]byte, error) {
	return c.call(ctx, "prove_kernel_to_outputs", kernelParams{MastHash: kernel.MastHash().Hex(), Utxos: hashAll(outputs)})
}

type collectTypeScriptsParams struct {
	MastHash string      `json:"mast_hash"`
	Inputs   utxoDigests `json:"inputs"`
	Outputs  utxoDigests `json:"outputs"`
}

// ProveCollectTypeScripts implements neptune.Prover.
func (c *Client) ProveCollectTypeScripts(ctx context.Context, kernel neptune.TransactionKernel, inputs, outputs []neptune.Utxo) ([]byte, error) {
	return c.call(ctx, "prove_collect_type_scripts", collectTypeScriptsParams{
		MastHash: kernel.MastHash().Hex(),
		Inputs:   hashAll(inputs),
		Outputs:  hashAll(outputs),
	})
}

type scriptProofParams struct {
	PublicInput string `json:"public_input"`
	Script      string `json:"script"`
}

// ProveLockScript implements neptune.Prover.
func (c *Client) ProveLockScript(ctx context.Context, publicInput neptune.Digest, lockScript neptune.LockScript) ([]byte, error) {
	return c.call(ctx, "prove_lock_script", scriptProofParams{
		PublicInput: publicInput.Hex(),
		Script:      hex.EncodeToString(lockScript),
	})
}

// ProveTypeScript implements neptune.Prover.
func (c *Client) ProveTypeScript(ctx context.Context, publicInput neptune.Digest, typeScript neptune.LockScript) ([]byte, error) {
	return c.call(ctx, "prove_type_script", scriptProofParams{
		PublicInput: publicInput.Hex(),
		Script:      hex.EncodeToString(typeScript),
	})
}
