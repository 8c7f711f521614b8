package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/NebulousLabs/threadgroup"

	"github.com/kelp-wallet/kelp/internal/logging"
	"github.com/kelp-wallet/kelp/internal/neptune"
	"github.com/kelp-wallet/kelp/internal/rpc"
	"github.com/kelp-wallet/kelp/internal/storage"
	"github.com/kelp-wallet/kelp/internal/walletseed"
)

// ScanInterval is how often MainLoop asks the scanner to catch up to the
// node's tip.
const ScanInterval = 10 * time.Second

// Wallet ties together the keys cache, UTXO cache, scanner, and
// transaction builder into the single long-lived object cmd/kelpd runs.
// Shutdown is tracked with a threadgroup.ThreadGroup the way rivine's
// wallet tracks its own background work, so Close can wait for an
// in-flight scan to finish instead of tearing the database out from
// under it.
type Wallet struct {
	tg threadgroup.ThreadGroup

	storage *storage.Storage
	keys    *Keys
	utxos   *Utxos
	scanner *Scanner
	builder *TransactionBuilder
	log     *logging.Logger
}

// Config bundles the dependencies New needs to assemble a Wallet.
type Config struct {
	// StoragePath is the path to the wallet's bbolt database file.
	StoragePath string
	// Mnemonic, if non-empty, initializes a fresh wallet directory with
	// this seed phrase. It is an error to supply it against a database
	// that already has a seed recorded.
	Mnemonic string
	Client   rpc.RemoteNode
	Prover   neptune.Prover
	Log      *logging.Logger
}

// New opens or creates the wallet's storage and assembles its
// collaborators. Keys and the UTXO cache are loaded eagerly, matching
// flow.rs's synchronous Wallet::new rather than rivine's lazy
// unlock-on-demand model, since a light client has no encrypted-at-rest
// seed file to wait on a passphrase for.
func New(cfg Config) (*Wallet, error) {
	st, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	keys, err := NewKeys(st, cfg.Log, cfg.Mnemonic)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize keys: %w", err)
	}

	utxos, err := NewUtxos(st, cfg.Client, cfg.Log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize utxo cache: %w", err)
	}

	scanner := NewScanner(cfg.Client, st, keys, utxos, cfg.Log)
	builder := NewTransactionBuilder(cfg.Client, cfg.Prover, keys, utxos, cfg.Log)

	return &Wallet{
		storage: st,
		keys:    keys,
		utxos:   utxos,
		scanner: scanner,
		builder: builder,
		log:     cfg.Log.WithComponent("wallet"),
	}, nil
}

// Height returns the wallet's persisted scan tip.
func (w *Wallet) Height() (neptune.BlockHeight, error) {
	return w.storage.Height()
}

// Balance returns the wallet's current spendable balance.
func (w *Wallet) Balance() neptune.NativeCurrencyAmount {
	return w.utxos.Summary()
}

// ReceivingAddress returns the current Generation-family receiving address
// to hand out for incoming payments.
func (w *Wallet) ReceivingAddress() neptune.ReceivingAddress {
	return w.keys.CurrentKey(walletseed.Generation).ReceivingAddress()
}

// Send builds, proves, and submits a payment of amount to recipient with
// the given fee.
func (w *Wallet) Send(ctx context.Context, recipient neptune.ReceivingAddress, amount, fee neptune.NativeCurrencyAmount) error {
	if err := w.tg.Add(); err != nil {
		return err
	}
	defer w.tg.Done()
	return w.builder.Send(ctx, recipient, amount, fee)
}

// MainLoop runs the periodic scan, ticking every ScanInterval until ctx is
// canceled or Close is called.
func (w *Wallet) MainLoop(ctx context.Context) error {
	if err := w.tg.Add(); err != nil {
		return err
	}
	defer w.tg.Done()

	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.scanner.Scan(ctx); err != nil {
				w.log.Severe("scan failed:", err)
			}
		case <-ctx.Done():
			return nil
		case <-w.tg.StopChan():
			return nil
		}
	}
}

// Close stops any in-flight work and releases the wallet's storage.
func (w *Wallet) Close() error {
	if err := w.tg.Stop(); err != nil {
		return err
	}
	return w.storage.Close()
}
