// Package wallet implements kelp's spending-key cache, UTXO cache,
// block scanner, transaction builder, and top-level orchestration -- the
// generalized, Go-shaped counterpart to rivine's modules/wallet package.
package wallet

import (
	"fmt"
	"sync"

	"github.com/kelp-wallet/kelp/internal/logging"
	"github.com/kelp-wallet/kelp/internal/neptune"
	"github.com/kelp-wallet/kelp/internal/storage"
	"github.com/kelp-wallet/kelp/internal/walletseed"
)

// Keys is the in-memory cache of derived spending keys, backed by the
// Keys keyspace. It mirrors rivine wallet's primary-seed address cache:
// loaded once at startup from a persisted counter, extended on demand by
// DeriveNextKey.
type Keys struct {
	mu      sync.RWMutex
	storage *storage.Storage
	seed    walletseed.Seed
	log     *logging.Logger

	keys map[walletseed.KeyFamily][]walletseed.SpendingKey
}

// NewKeys constructs the keys cache, deriving and validating the wallet's
// seed from mnemonic if storage has not already recorded one, and
// refusing any supplied mnemonic for an already-initialized wallet.
func NewKeys(st *storage.Storage, log *logging.Logger, mnemonic string) (*Keys, error) {
	log.Println("Initializing keys cache...")

	if err := initializeMnemonic(st, mnemonic); err != nil {
		return nil, err
	}

	phrase, err := st.Mnemonic()
	if err != nil {
		return nil, fmt.Errorf("wallet not initialized: %w", err)
	}
	seed, err := walletseed.ParseMnemonic(phrase)
	if err != nil {
		return nil, fmt.Errorf("wallet storage corrupted: stored mnemonic is invalid: %w", err)
	}

	k := &Keys{
		storage: st,
		seed:    seed,
		log:     log.WithComponent("keys"),
		keys:    make(map[walletseed.KeyFamily][]walletseed.SpendingKey),
	}
	if err := k.loadKeys(); err != nil {
		return nil, err
	}
	return k, nil
}

// initializeMnemonic records mnemonic as the wallet's seed phrase if one
// was supplied and storage has none yet. Supplying a mnemonic for a wallet
// that already has one recorded (even the same one) is refused outright
// rather than silently ignored, since that almost always indicates the
// operator meant to point at a different wallet directory.
func initializeMnemonic(st *storage.Storage, mnemonic string) error {
	if mnemonic == "" {
		return nil
	}
	if _, err := st.Mnemonic(); err == nil {
		return fmt.Errorf("wallet already initialized; cannot overwrite mnemonic")
	} else if err != storage.ErrNoMnemonic {
		return err
	}
	if _, err := walletseed.ParseMnemonic(mnemonic); err != nil {
		return fmt.Errorf("mnemonic validation failed: %w", err)
	}
	return st.SetMnemonic(mnemonic)
}

func (k *Keys) loadKeys() error {
	for _, family := range []walletseed.KeyFamily{walletseed.Generation, walletseed.Symmetric} {
		count, err := k.storage.GetKeyCount(byte(family))
		if err != nil {
			return fmt.Errorf("load %s key count: %w", family, err)
		}
		for idx := uint64(0); idx < count; idx++ {
			key, err := walletseed.Derive(k.seed, family, idx)
			if err != nil {
				return err
			}
			k.keys[family] = append(k.keys[family], key)
		}
	}
	return nil
}

// CurrentKey returns the most recently derived key in family. It panics if
// no key of that family has ever been derived, which cannot happen in
// practice since loadKeys always derives at least index 0.
func (k *Keys) CurrentKey(family walletseed.KeyFamily) walletseed.SpendingKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	list := k.keys[family]
	return list[len(list)-1]
}

// DeriveNextKey extends family's key list by one and persists the new
// count, the way a user explicitly requesting a fresh receiving address
// would trigger it.
func (k *Keys) DeriveNextKey(family walletseed.KeyFamily) (walletseed.SpendingKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	index := uint64(len(k.keys[family]))
	key, err := walletseed.Derive(k.seed, family, index)
	if err != nil {
		return walletseed.SpendingKey{}, err
	}
	k.keys[family] = append(k.keys[family], key)
	if err := k.storage.IncrementKeyCount(byte(family)); err != nil {
		return walletseed.SpendingKey{}, fmt.Errorf("persist key count: %w", err)
	}
	return key, nil
}

// allKeys returns every derived key across both families. The caller must
// hold at least a read lock.
func (k *Keys) allKeys() []walletseed.SpendingKey {
	var all []walletseed.SpendingKey
	for _, list := range k.keys {
		all = append(all, list...)
	}
	return all
}

// FindSpendingKeyForUtxo finds the key whose lock script digest matches
// utxo's, the step TransactionBuilder needs before it can unlock a cached
// UTXO for spending.
func (k *Keys) FindSpendingKeyForUtxo(utxo neptune.Utxo) (walletseed.SpendingKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	target := utxo.LockScript
	for _, key := range k.allKeys() {
		digest := key.LockScriptDigest()
		if string(digest[:]) == string(target) {
			return key, true
		}
	}
	return walletseed.SpendingKey{}, false
}

// ScanResult is a UTXO recovered from a block's announcements, along with
// the mock membership proof Utxos.SyncProofs will complete.
type ScanResult struct {
	Utxo  neptune.Utxo
	Proof neptune.MsMembershipProof
}

// Scan searches announcements for payments addressed to any key this
// wallet holds, decrypting each candidate and returning what it recovers.
// A malicious or malformed announcement just fails to decrypt for every
// key and is silently skipped -- the only consumer-side defense kelp has
// against junk on the chain, since it never learns what a failed
// decryption was supposed to mean.
func (k *Keys) Scan(announcements []neptune.Announcement) []ScanResult {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var found []ScanResult
	for family, list := range k.keys {
		for _, key := range list {
			receiverID := key.ReceiverIdentifier()
			for _, a := range announcements {
				tag, ok := a.FamilyTag()
				if !ok || walletseed.KeyFamily(tag) != family {
					continue
				}
				id, ok := a.ReceiverIdentifier()
				if !ok || id != receiverID {
					continue
				}
				ciphertext, ok := a.Ciphertext()
				if !ok {
					continue
				}
				utxo, senderRandomness, err := key.Decrypt(ciphertext)
				if err != nil {
					k.log.Debugln("announcement did not decrypt for", family, "key:", err)
					continue
				}
				proof := neptune.NewMockMembershipProof(senderRandomness, key.PrivacyPreimage())
				found = append(found, ScanResult{Utxo: utxo, Proof: proof})
			}
		}
	}
	return found
}
