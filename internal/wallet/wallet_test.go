package wallet

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelp-wallet/kelp/internal/neptune"
	"github.com/kelp-wallet/kelp/internal/walletseed"
)

func newTestWallet(t *testing.T, node *fakeRemoteNode) *Wallet {
	t.Helper()
	phrase := mustRandomMnemonic(t)
	w, err := New(Config{
		StoragePath: filepath.Join(t.TempDir(), "wallet.db"),
		Mnemonic:    phrase,
		Client:      node,
		Prover:      fakeProver{},
		Log:         newTestLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestNewWalletStartsAtGenesisWithZeroBalance(t *testing.T) {
	w := newTestWallet(t, newFakeRemoteNode())

	height, err := w.Height()
	require.NoError(t, err)
	assert.Equal(t, neptune.Genesis, height)
	assert.True(t, w.Balance().IsZero())
}

func TestWalletReceivingAddressMatchesCurrentGenerationKey(t *testing.T) {
	w := newTestWallet(t, newFakeRemoteNode())
	addr := w.ReceivingAddress()
	assert.Equal(t, w.keys.CurrentKey(walletseed.Generation).LockScriptDigest(), addr.SpendingLockDigest)
}

func TestMainLoopStopsOnContextCancel(t *testing.T) {
	w := newTestWallet(t, newFakeRemoteNode())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.MainLoop(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("MainLoop did not stop after ctx was cancelled")
	}
}

func TestCloseReleasesStorage(t *testing.T) {
	phrase := mustRandomMnemonic(t)
	w, err := New(Config{
		StoragePath: filepath.Join(t.TempDir(), "wallet.db"),
		Mnemonic:    phrase,
		Client:      newFakeRemoteNode(),
		Prover:      fakeProver{},
		Log:         newTestLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Height()
	assert.Error(t, err)
}
