package wallet

import (
	"context"
	"sync"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

// fakeRemoteNode is an in-memory rpc.RemoteNode used across this package's
// tests: blocks and their outputs are registered up front, and UTXOs can
// be marked spent to exercise Utxos.SyncProofs' pruning path.
type fakeRemoteNode struct {
	mu      sync.Mutex
	height  neptune.BlockHeight
	kernels map[uint64]neptune.TransactionKernel
	bodies  map[uint64]neptune.BlockBody
	spent   map[neptune.Digest]bool
	subs    []submittedTx
}

type submittedTx struct {
	kernel neptune.TransactionKernel
	proof  neptune.ProofCollection
}

func newFakeRemoteNode() *fakeRemoteNode {
	return &fakeRemoteNode{
		kernels: make(map[uint64]neptune.TransactionKernel),
		bodies:  make(map[uint64]neptune.BlockBody),
		spent:   make(map[neptune.Digest]bool),
	}
}

func (n *fakeRemoteNode) setBlock(height neptune.BlockHeight, kernel neptune.TransactionKernel, leafCount uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kernels[uint64(height)] = kernel
	n.bodies[uint64(height)] = neptune.BlockBody{
		MutatorSetAccumulator: neptune.NewMutatorSetAccumulator(leafCount, neptune.Digest{}),
	}
	if height > n.height {
		n.height = height
	}
}

func (n *fakeRemoteNode) markSpent(item neptune.Digest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.spent[item] = true
}

func (n *fakeRemoteNode) Height(ctx context.Context) (neptune.BlockHeight, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height, nil
}

func (n *fakeRemoteNode) GetBlockTransactionKernel(ctx context.Context, height neptune.BlockHeight) (neptune.TransactionKernel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.kernels[uint64(height)], nil
}

func (n *fakeRemoteNode) GetBlockBody(ctx context.Context, height neptune.BlockHeight) (neptune.BlockBody, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bodies[uint64(height)], nil
}

func (n *fakeRemoteNode) RestoreMembershipProof(ctx context.Context, item neptune.Digest, proof neptune.MsMembershipProof) (neptune.MsMembershipProof, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.spent[item] {
		proof.Revoke()
	}
	return proof, nil
}

func (n *fakeRemoteNode) GetUtxoDigest(ctx context.Context, idx uint64) (neptune.Digest, error) {
	return neptune.Digest{}, nil
}

func (n *fakeRemoteNode) SubmitTransaction(ctx context.Context, kernel neptune.TransactionKernel, proof neptune.ProofCollection) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, submittedTx{kernel: kernel, proof: proof})
	return nil
}

// fakeProver implements neptune.Prover by returning a deterministic,
// inexpensive stand-in "proof" derived from its inputs, so tests can
// assert the right stages ran without paying STARK-proving cost.
type fakeProver struct{}

func (fakeProver) ProveRemovalRecordsIntegrity(ctx context.Context, kernel neptune.TransactionKernel, inputs []neptune.Utxo) ([]byte, error) {
	return []byte("removal-records-integrity"), nil
}

func (fakeProver) ProveCollectLockScripts(ctx context.Context, kernel neptune.TransactionKernel, inputs []neptune.Utxo) ([]byte, error) {
	return []byte("collect-lock-scripts"), nil
}

func (fakeProver) ProveKernelToOutputs(ctx context.Context, kernel neptune.TransactionKernel, outputs []neptune.Utxo) ([]byte, error) {
	return []byte("kernel-to-outputs"), nil
}

func (fakeProver) ProveCollectTypeScripts(ctx context.Context, kernel neptune.TransactionKernel, inputs, outputs []neptune.Utxo) ([]byte, error) {
	return []byte("collect-type-scripts"), nil
}

func (fakeProver) ProveLockScript(ctx context.Context, publicInput neptune.Digest, lockScript neptune.LockScript) ([]byte, error) {
	return []byte("lock-script-proof"), nil
}

func (fakeProver) ProveTypeScript(ctx context.Context, publicInput neptune.Digest, typeScript neptune.LockScript) ([]byte, error) {
	return []byte("type-script-proof"), nil
}
