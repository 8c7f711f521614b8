package walletseed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

func TestMnemonicRoundTrip(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)

	phrase, err := NewMnemonic(seed)
	require.NoError(t, err)

	recovered, err := ParseMnemonic(phrase)
	require.NoError(t, err)
	assert.Equal(t, seed, recovered)
}

func TestParseMnemonicRejectsBadChecksum(t *testing.T) {
	_, err := ParseMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon")
	assert.Error(t, err)
}

func TestDeriveIsDeterministic(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)

	k1, err := Derive(seed, Generation, 3)
	require.NoError(t, err)
	k2, err := Derive(seed, Generation, 3)
	require.NoError(t, err)

	assert.Equal(t, k1.PublicKey, k2.PublicKey)
	assert.Equal(t, k1.PrivateKey, k2.PrivateKey)
}

func TestDeriveFamiliesDoNotCollide(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)

	gen, err := Derive(seed, Generation, 0)
	require.NoError(t, err)
	sym, err := Derive(seed, Symmetric, 0)
	require.NoError(t, err)

	assert.NotEqual(t, gen.PublicKey, sym.PublicKey)
}

func TestDeriveVariesByIndex(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)

	k0, err := Derive(seed, Generation, 0)
	require.NoError(t, err)
	k1, err := Derive(seed, Generation, 1)
	require.NoError(t, err)

	assert.NotEqual(t, k0.PublicKey, k1.PublicKey)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)
	key, err := Derive(seed, Generation, 0)
	require.NoError(t, err)

	lockScript := neptune.LockScript{1, 2, 3, 4}
	amount := neptune.AmountFromNau(1_000_000_000)
	var senderRandomness neptune.Digest
	senderRandomness[0] = 0xAB

	ciphertext, err := key.EncryptNote(lockScript, amount, senderRandomness)
	require.NoError(t, err)

	recoveredUtxo, recoveredRandomness, err := key.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, lockScript, recoveredUtxo.LockScript)
	assert.Equal(t, amount, recoveredUtxo.Amount)
	assert.Equal(t, senderRandomness, recoveredRandomness)
}

func TestDecryptFailsForWrongKey(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)
	owner, err := Derive(seed, Generation, 0)
	require.NoError(t, err)
	other, err := Derive(seed, Generation, 1)
	require.NoError(t, err)

	ciphertext, err := owner.EncryptNote(neptune.LockScript{9}, neptune.AmountFromNau(1), neptune.Digest{})
	require.NoError(t, err)

	_, _, err = other.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestReceivingAddressIsStableForKey(t *testing.T) {
	seed, err := NewRandomSeed()
	require.NoError(t, err)
	key, err := Derive(seed, Generation, 0)
	require.NoError(t, err)

	addr1 := key.ReceivingAddress()
	addr2 := key.ReceivingAddress()
	assert.Equal(t, addr1, addr2)
}
