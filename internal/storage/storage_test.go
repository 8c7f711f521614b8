package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wallet.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestHeightDefaultsToGenesis(t *testing.T) {
	st := openTestStorage(t)
	h, err := st.Height()
	require.NoError(t, err)
	assert.Equal(t, neptune.Genesis, h)
}

func TestSetHeightPersists(t *testing.T) {
	st := openTestStorage(t)
	require.NoError(t, st.SetHeight(neptune.BlockHeight(42)))

	h, err := st.Height()
	require.NoError(t, err)
	assert.Equal(t, neptune.BlockHeight(42), h)
}

func TestGetKeyCountDefaultsToOne(t *testing.T) {
	st := openTestStorage(t)
	count, err := st.GetKeyCount(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestIncrementKeyCountFromAbsent(t *testing.T) {
	st := openTestStorage(t)
	require.NoError(t, st.IncrementKeyCount(0))

	count, err := st.GetKeyCount(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestKeyCountsAreIndependentPerFamily(t *testing.T) {
	st := openTestStorage(t)
	require.NoError(t, st.IncrementKeyCount(0))

	genCount, err := st.GetKeyCount(0)
	require.NoError(t, err)
	symCount, err := st.GetKeyCount(1)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), genCount)
	assert.Equal(t, uint64(1), symCount)
}

func TestMnemonicRoundTrip(t *testing.T) {
	st := openTestStorage(t)

	_, err := st.Mnemonic()
	assert.ErrorIs(t, err, ErrNoMnemonic)

	require.NoError(t, st.SetMnemonic("test phrase"))
	phrase, err := st.Mnemonic()
	require.NoError(t, err)
	assert.Equal(t, "test phrase", phrase)
}

func TestUtxoKeyRoundTrip(t *testing.T) {
	digest := neptune.HashBytes([]byte("a utxo"))
	key := UtxoKey{LeafIndex: 17, Digest: digest}

	parsed, err := ParseUtxoKey(key.Bytes())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestPutUtxoReportsExisted(t *testing.T) {
	st := openTestStorage(t)
	key := UtxoKey{LeafIndex: 1, Digest: neptune.HashBytes([]byte("x"))}

	existed, err := st.PutUtxo(key, []byte("v1"))
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = st.PutUtxo(key, []byte("v2"))
	require.NoError(t, err)
	assert.True(t, existed)
}

func TestForEachUtxoWalksInLeafOrder(t *testing.T) {
	st := openTestStorage(t)
	for _, idx := range []uint64{5, 1, 3} {
		key := UtxoKey{LeafIndex: idx, Digest: neptune.HashBytes([]byte{byte(idx)})}
		_, err := st.PutUtxo(key, []byte("v"))
		require.NoError(t, err)
	}

	var seen []uint64
	err := st.ForEachUtxo(func(key UtxoKey, value []byte) error {
		seen = append(seen, key.LeafIndex)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3, 5}, seen)
}

func TestFetchUpdateUtxoDeletesOnNilValue(t *testing.T) {
	st := openTestStorage(t)
	key := UtxoKey{LeafIndex: 1, Digest: neptune.HashBytes([]byte("x"))}
	_, err := st.PutUtxo(key, []byte("v"))
	require.NoError(t, err)

	err = st.FetchUpdateUtxo(key, func(old []byte, found bool) ([]byte, error) {
		assert.True(t, found)
		return nil, nil
	})
	require.NoError(t, err)

	var seen int
	err = st.ForEachUtxo(func(key UtxoKey, value []byte) error {
		seen++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, seen)
}

func TestReopenAcceptsMatchingHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")
	st, err := Open(path)
	require.NoError(t, err)
	st.Close()

	// Reopening the same file with matching metadata should succeed.
	st2, err := Open(path)
	require.NoError(t, err)
	st2.Close()
}
