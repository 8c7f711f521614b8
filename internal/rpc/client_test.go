package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)
	return client
}

func writeResult(t *testing.T, w http.ResponseWriter, req *jsonRPCRequest, result interface{}) {
	t.Helper()
	encodedResult, err := json.Marshal(result)
	require.NoError(t, err)
	resp := jsonRPCResponse{Result: encodedResult}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func decodeRequest(t *testing.T, r *http.Request) jsonRPCRequest {
	t.Helper()
	var req jsonRPCRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestHeightDecodesResult(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, "height", req.Method)
		writeResult(t, w, &req, heightResult{Height: 42})
	})

	h, err := client.Height(context.Background())
	require.NoError(t, err)
	assert.Equal(t, neptune.BlockHeight(42), h)
}

func TestCallSurfacesJSONRPCError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := jsonRPCResponse{Error: &jsonRPCError{Code: -32000, Message: "boom"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := client.Height(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestCallSurfacesNonOKStatus(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("kaboom"))
	})

	_, err := client.Height(context.Background())
	assert.ErrorContains(t, err, "500")
}

func TestGetBlockTransactionKernelRoundTrips(t *testing.T) {
	commitment := neptune.HashBytes([]byte("output"))
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		writeResult(t, w, &req, wireKernel{
			Announcements: []wireAnnouncement{{Message: []uint64{1, 2, 3}}},
			Outputs:       []wireOutput{{Commitment: commitment.Hex()}},
			FeeNau:        5,
			Timestamp:     100,
		})
	})

	kernel, err := client.GetBlockTransactionKernel(context.Background(), neptune.BlockHeight(1))
	require.NoError(t, err)
	require.Len(t, kernel.Announcements, 1)
	assert.Equal(t, []uint64{1, 2, 3}, kernel.Announcements[0].Message)
	require.Len(t, kernel.Outputs, 1)
	assert.Equal(t, commitment, kernel.Outputs[0].Commitment)
	assert.Equal(t, neptune.AmountFromNau(5), kernel.Fee)
}

func TestGetUtxoDigestUsesCacheOnSecondCall(t *testing.T) {
	digest := neptune.HashBytes([]byte("utxo"))
	var calls int32
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		req := decodeRequest(t, r)
		writeResult(t, w, &req, digestResult{Digest: digest.Hex()})
	})

	d1, err := client.GetUtxoDigest(context.Background(), 7)
	require.NoError(t, err)
	d2, err := client.GetUtxoDigest(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, digest, d1)
	assert.Equal(t, digest, d2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSubmitTransactionEncodesProof(t *testing.T) {
	var gotParams submitParams
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		assert.Equal(t, "submit_transaction", req.Method)
		require.NoError(t, json.Unmarshal(req.Params, &gotParams))
		writeResult(t, w, &req, struct{}{})
	})

	kernel := neptune.TransactionKernel{Fee: neptune.AmountFromNau(3)}
	proof := neptune.ProofCollection{RemovalRecordsIntegrity: []byte{0xAB, 0xCD}}

	err := client.SubmitTransaction(context.Background(), kernel, proof)
	require.NoError(t, err)
	assert.Equal(t, "abcd", gotParams.Proof.RemovalRecordsIntegrity)
	assert.Equal(t, uint64(3), gotParams.Kernel.FeeNau)
}
