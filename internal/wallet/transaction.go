package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/kelp-wallet/kelp/internal/logging"
	"github.com/kelp-wallet/kelp/internal/neptune"
	"github.com/kelp-wallet/kelp/internal/rpc"
	"github.com/kelp-wallet/kelp/internal/walletseed"
)

// TransactionBuilder assembles and submits spending transactions: select
// inputs, build outputs (including change), drive the six-stage proving
// sequence, and hand the result to the node.
type TransactionBuilder struct {
	client rpc.RemoteNode
	prover neptune.Prover
	keys   *Keys
	utxos  *Utxos
	log    *logging.Logger
}

// NewTransactionBuilder constructs a TransactionBuilder over the given
// collaborators.
func NewTransactionBuilder(client rpc.RemoteNode, prover neptune.Prover, keys *Keys, utxos *Utxos, log *logging.Logger) *TransactionBuilder {
	return &TransactionBuilder{
		client: client,
		prover: prover,
		keys:   keys,
		utxos:  utxos,
		log:    log.WithComponent("txbuilder"),
	}
}

// Send builds, proves, and submits a transaction paying amount to
// recipient, using fee as the miner fee. It resyncs the UTXO cache first
// so input selection works against a current view of what is actually
// still spendable.
func (b *TransactionBuilder) Send(ctx context.Context, recipient neptune.ReceivingAddress, amount, fee neptune.NativeCurrencyAmount) error {
	if err := b.utxos.SyncProofs(ctx); err != nil {
		return fmt.Errorf("sync proofs before send: %w", err)
	}

	selected, change, err := b.utxos.SelectUtxos(amount.Add(fee))
	if err != nil {
		return fmt.Errorf("select inputs: %w", err)
	}

	var inputs []neptune.Utxo
	for _, locked := range selected {
		if _, ok := b.keys.FindSpendingKeyForUtxo(locked.Utxo); !ok {
			return fmt.Errorf("no spending key found for selected utxo")
		}
		inputs = append(inputs, locked.Utxo)
	}

	changeKey := b.keys.CurrentKey(walletseed.Symmetric)
	outputs := []neptune.Utxo{
		{LockScript: lockScriptFor(recipient), Amount: amount},
		{LockScript: changeKey.LockScriptDigest().AsLockScript(), Amount: change},
	}

	b.log.Printf("Preparing transaction with %d inputs, %d outputs...", len(inputs), len(outputs))

	kernel := neptune.TransactionKernel{Fee: fee, Timestamp: uint64(time.Now().Unix())}
	for _, o := range outputs {
		kernel.Outputs = append(kernel.Outputs, neptune.TransactionOutput{Commitment: o.Hash()})
	}

	// Proving is CPU-bound and can run for minutes; it must never share a
	// goroutine with anything the scanner's 10-second tick or the console
	// REPL is waiting on. proveResult channels the outcome back to Send's
	// caller, which itself typically already runs on its own goroutine
	// (the console's "send" command).
	type proveResult struct {
		proof neptune.ProofCollection
		err   error
	}
	resultCh := make(chan proveResult, 1)
	go func() {
		proof, err := b.prove(ctx, kernel, inputs, outputs)
		resultCh <- proveResult{proof: proof, err: err}
	}()

	var result proveResult
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if result.err != nil {
		return fmt.Errorf("prove transaction: %w", result.err)
	}

	if err := b.client.SubmitTransaction(ctx, kernel, result.proof); err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}
	b.log.Println("Succesfully submitted transaction!")
	return nil
}

// prove drives the prover collaborator through the six proof stages in
// the order the node's validity tree requires: removal records integrity,
// lock-script collection, kernel-to-outputs, type-script collection, then
// one proof per lock script and one per type script.
func (b *TransactionBuilder) prove(ctx context.Context, kernel neptune.TransactionKernel, inputs, outputs []neptune.Utxo) (neptune.ProofCollection, error) {
	mastHash := kernel.MastHash()
	lockScriptInput := neptune.HashBytes(mastHash.ReversedBytes())

	inputDigests := make([]neptune.Digest, len(inputs))
	for i, u := range inputs {
		inputDigests[i] = u.Hash()
	}
	outputDigests := make([]neptune.Digest, len(outputs))
	for i, u := range outputs {
		outputDigests[i] = u.Hash()
	}
	var salt neptune.Digest
	saltedInputsHash := neptune.SaltedHash(salt, inputDigests)
	saltedOutputsHash := neptune.SaltedHash(salt, outputDigests)
	typeScriptInput := neptune.HashBytes(append(append(
		mastHash.ReversedBytes(),
		saltedInputsHash.ReversedBytes()...),
		saltedOutputsHash.ReversedBytes()...))

	b.log.Printf("Starting proving of %s...", mastHash.Hex())

	b.log.Println("Proving RemovalRecordsIntegrity (1/6)...")
	removalRecordsIntegrity, err := b.prover.ProveRemovalRecordsIntegrity(ctx, kernel, inputs)
	if err != nil {
		return neptune.ProofCollection{}, fmt.Errorf("RemovalRecordsIntegrity: %w", err)
	}

	b.log.Println("Proving CollectLockScripts (2/6)...")
	collectLockScripts, err := b.prover.ProveCollectLockScripts(ctx, kernel, inputs)
	if err != nil {
		return neptune.ProofCollection{}, fmt.Errorf("CollectLockScripts: %w", err)
	}

	b.log.Println("Proving KernelToOutputs (3/6)...")
	kernelToOutputs, err := b.prover.ProveKernelToOutputs(ctx, kernel, outputs)
	if err != nil {
		return neptune.ProofCollection{}, fmt.Errorf("KernelToOutputs: %w", err)
	}

	b.log.Println("Proving CollectTypeScripts (4/6)...")
	collectTypeScripts, err := b.prover.ProveCollectTypeScripts(ctx, kernel, inputs, outputs)
	if err != nil {
		return neptune.ProofCollection{}, fmt.Errorf("CollectTypeScripts: %w", err)
	}

	b.log.Println("Proving lock scripts (5/6)...")
	lockScriptProofs := make([][]byte, len(inputs))
	for i, u := range inputs {
		proof, err := b.prover.ProveLockScript(ctx, lockScriptInput, u.LockScript)
		if err != nil {
			return neptune.ProofCollection{}, fmt.Errorf("LockScript %d: %w", i, err)
		}
		lockScriptProofs[i] = proof
	}

	b.log.Println("Proving type scripts (6/6)...")
	typeScriptProofs := make([][]byte, len(outputs))
	for i, u := range outputs {
		proof, err := b.prover.ProveTypeScript(ctx, typeScriptInput, u.LockScript)
		if err != nil {
			return neptune.ProofCollection{}, fmt.Errorf("TypeScript %d: %w", i, err)
		}
		typeScriptProofs[i] = proof
	}

	return neptune.ProofCollection{
		RemovalRecordsIntegrity: removalRecordsIntegrity,
		CollectLockScripts:      collectLockScripts,
		KernelToOutputs:         kernelToOutputs,
		CollectTypeScripts:      collectTypeScripts,
		LockScriptProofs:        lockScriptProofs,
		TypeScriptProofs:        typeScriptProofs,
	}, nil
}

// lockScriptFor returns the lock script an output paying addr should
// carry. kelp never interprets lock scripts itself, only compares them, so
// this is simply addr's digest reinterpreted as bytes.
func lockScriptFor(addr neptune.ReceivingAddress) neptune.LockScript {
	return addr.SpendingLockDigest.AsLockScript()
}
