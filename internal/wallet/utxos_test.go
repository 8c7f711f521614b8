package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

func realizedProof(leafIndex uint64) neptune.MsMembershipProof {
	return neptune.MsMembershipProof{
		AoclLeafIndex: leafIndex,
		AuthPathAOCL:  []neptune.Digest{{}},
		TargetChunks:  neptune.ChunkDictionary{},
	}
}

func TestUtxosRecordUpdatesSummary(t *testing.T) {
	st := openTestStorage(t)
	node := newFakeRemoteNode()
	utxos, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)

	utxo := neptune.Utxo{LockScript: neptune.LockScript{1}, Amount: neptune.AmountFromNau(100)}
	require.NoError(t, utxos.Record(utxo, realizedProof(1)))

	assert.Equal(t, neptune.AmountFromNau(100), utxos.Summary())
}

func TestUtxosRecordIsIdempotent(t *testing.T) {
	st := openTestStorage(t)
	node := newFakeRemoteNode()
	utxos, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)

	utxo := neptune.Utxo{LockScript: neptune.LockScript{1}, Amount: neptune.AmountFromNau(100)}
	proof := realizedProof(1)
	require.NoError(t, utxos.Record(utxo, proof))
	require.NoError(t, utxos.Record(utxo, proof))

	assert.Equal(t, neptune.AmountFromNau(100), utxos.Summary())
}

func TestUtxosReloadsFromStorage(t *testing.T) {
	st := openTestStorage(t)
	node := newFakeRemoteNode()
	utxos, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)

	utxo := neptune.Utxo{LockScript: neptune.LockScript{1}, Amount: neptune.AmountFromNau(250)}
	require.NoError(t, utxos.Record(utxo, realizedProof(1)))

	reloaded, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, neptune.AmountFromNau(250), reloaded.Summary())
}

func TestSyncProofsPrunesSpentUtxos(t *testing.T) {
	st := openTestStorage(t)
	node := newFakeRemoteNode()
	node.setBlock(1, neptune.TransactionKernel{}, 10)

	utxos, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)

	utxo := neptune.Utxo{LockScript: neptune.LockScript{1}, Amount: neptune.AmountFromNau(100)}
	require.NoError(t, utxos.Record(utxo, realizedProof(1)))
	require.Equal(t, neptune.AmountFromNau(100), utxos.Summary())

	node.markSpent(utxo.Hash())

	require.NoError(t, utxos.SyncProofs(context.Background()))
	assert.True(t, utxos.Summary().IsZero())
}

func TestSyncProofsKeepsUnspentUtxos(t *testing.T) {
	st := openTestStorage(t)
	node := newFakeRemoteNode()
	node.setBlock(1, neptune.TransactionKernel{}, 10)

	utxos, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)

	utxo := neptune.Utxo{LockScript: neptune.LockScript{1}, Amount: neptune.AmountFromNau(100)}
	require.NoError(t, utxos.Record(utxo, realizedProof(1)))

	require.NoError(t, utxos.SyncProofs(context.Background()))
	assert.Equal(t, neptune.AmountFromNau(100), utxos.Summary())
}

func TestSelectUtxosCoversTarget(t *testing.T) {
	st := openTestStorage(t)
	node := newFakeRemoteNode()
	utxos, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, utxos.Record(neptune.Utxo{LockScript: neptune.LockScript{1}, Amount: neptune.AmountFromNau(60)}, realizedProof(1)))
	require.NoError(t, utxos.Record(neptune.Utxo{LockScript: neptune.LockScript{2}, Amount: neptune.AmountFromNau(60)}, realizedProof(2)))

	selected, change, err := utxos.SelectUtxos(neptune.AmountFromNau(100))
	require.NoError(t, err)
	assert.Len(t, selected, 2)
	assert.Equal(t, neptune.AmountFromNau(20), change)
}

func TestSelectUtxosFailsWhenInsufficient(t *testing.T) {
	st := openTestStorage(t)
	node := newFakeRemoteNode()
	utxos, err := NewUtxos(st, node, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, utxos.Record(neptune.Utxo{LockScript: neptune.LockScript{1}, Amount: neptune.AmountFromNau(10)}, realizedProof(1)))

	_, _, err = utxos.SelectUtxos(neptune.AmountFromNau(100))
	assert.Error(t, err)
}
