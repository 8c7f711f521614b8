package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/NebulousLabs/fastrand"

	"github.com/kelp-wallet/kelp/internal/logging"
	"github.com/kelp-wallet/kelp/internal/neptune"
	"github.com/kelp-wallet/kelp/internal/rpc"
	"github.com/kelp-wallet/kelp/internal/storage"
)

// LockedUtxo is a cached UTXO together with the membership proof that
// currently authenticates it against the node's mutator set.
type LockedUtxo struct {
	Utxo            neptune.Utxo
	MembershipProof neptune.MsMembershipProof
}

type lockedUtxoRecord struct {
	Utxo             neptune.Utxo
	SenderRandomness neptune.Digest
	ReceiverPreimage neptune.Digest
	AoclLeafIndex    uint64
	AuthPathAOCL     []neptune.Digest
}

func encodeLockedUtxo(u LockedUtxo) ([]byte, error) {
	return json.Marshal(lockedUtxoRecord{
		Utxo:             u.Utxo,
		SenderRandomness: u.MembershipProof.SenderRandomness,
		ReceiverPreimage: u.MembershipProof.ReceiverPreimage,
		AoclLeafIndex:    u.MembershipProof.AoclLeafIndex,
		AuthPathAOCL:     u.MembershipProof.AuthPathAOCL,
	})
}

func decodeLockedUtxo(b []byte) (LockedUtxo, error) {
	var rec lockedUtxoRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return LockedUtxo{}, err
	}
	return LockedUtxo{
		Utxo: rec.Utxo,
		MembershipProof: neptune.MsMembershipProof{
			SenderRandomness: rec.SenderRandomness,
			ReceiverPreimage: rec.ReceiverPreimage,
			AoclLeafIndex:    rec.AoclLeafIndex,
			AuthPathAOCL:     rec.AuthPathAOCL,
			TargetChunks:     neptune.ChunkDictionary{},
		},
	}, nil
}

// Utxos is the wallet's cache of spendable UTXOs, backed by the Utxos
// keyspace. It tracks a running balance summary alongside the UTXO list so
// callers never need to resum the cache just to answer "balance".
type Utxos struct {
	mu      sync.RWMutex
	storage *storage.Storage
	client  rpc.RemoteNode
	log     *logging.Logger

	utxos   map[storage.UtxoKey]LockedUtxo
	summary neptune.NativeCurrencyAmount
}

// NewUtxos constructs the UTXO cache, loading any records persisted from a
// previous run.
func NewUtxos(st *storage.Storage, client rpc.RemoteNode, log *logging.Logger) (*Utxos, error) {
	u := &Utxos{
		storage: st,
		client:  client,
		log:     log.WithComponent("utxos"),
		utxos:   make(map[storage.UtxoKey]LockedUtxo),
	}
	err := st.ForEachUtxo(func(key storage.UtxoKey, value []byte) error {
		record, err := decodeLockedUtxo(value)
		if err != nil {
			return fmt.Errorf("decode cached utxo at leaf %d: %w", key.LeafIndex, err)
		}
		u.utxos[key] = record
		u.summary = u.summary.Add(record.Utxo.Amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Summary returns the wallet's current total spendable balance.
func (u *Utxos) Summary() neptune.NativeCurrencyAmount {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.summary
}

// Record adds a newly recovered UTXO to the cache and persists it, adding
// its amount to the running balance only if this is the first time this
// UTXO has been recorded -- re-recording an already-known UTXO (the same
// leaf index and commitment) leaves the summary unchanged instead of
// double-counting it.
func (u *Utxos) Record(utxo neptune.Utxo, proof neptune.MsMembershipProof) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	key := storage.UtxoKey{LeafIndex: proof.AoclLeafIndex, Digest: utxo.Hash()}
	locked := LockedUtxo{Utxo: utxo, MembershipProof: proof}
	encoded, err := encodeLockedUtxo(locked)
	if err != nil {
		return fmt.Errorf("encode utxo record: %w", err)
	}
	existed, err := u.storage.PutUtxo(key, encoded)
	if err != nil {
		return fmt.Errorf("persist utxo record: %w", err)
	}

	u.utxos[key] = locked
	if !existed {
		u.summary = u.summary.Add(utxo.Amount)
	}
	return nil
}

// SyncProofs refreshes every cached UTXO's membership proof against the
// node's current mutator set, then prunes whatever no longer verifies
// (because it was spent since the last sync).
func (u *Utxos) SyncProofs(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for key, locked := range u.utxos {
		item := locked.Utxo.Hash()
		refreshed, err := u.client.RestoreMembershipProof(ctx, item, locked.MembershipProof)
		if err != nil {
			return fmt.Errorf("restore membership proof for leaf %d: %w", locked.MembershipProof.AoclLeafIndex, err)
		}
		locked.MembershipProof = refreshed
		u.utxos[key] = locked

		encoded, err := encodeLockedUtxo(locked)
		if err != nil {
			return fmt.Errorf("encode refreshed utxo record: %w", err)
		}
		if _, err := u.storage.PutUtxo(key, encoded); err != nil {
			return fmt.Errorf("persist refreshed utxo record: %w", err)
		}
	}

	return u.pruneLocked(ctx)
}

// pruneLocked drops every cached UTXO whose membership proof the node's
// current mutator set no longer accepts. The caller must hold u.mu.
func (u *Utxos) pruneLocked(ctx context.Context) error {
	height, err := u.client.Height(ctx)
	if err != nil {
		return fmt.Errorf("fetch tip height for prune: %w", err)
	}
	body, err := u.client.GetBlockBody(ctx, height)
	if err != nil {
		return fmt.Errorf("fetch block body for prune: %w", err)
	}
	msa := body.MutatorSetAccumulator

	for key, locked := range u.utxos {
		item := locked.Utxo.Hash()
		if msa.Verify(item, locked.MembershipProof) {
			continue
		}

		newSummary, ok := u.summary.CheckedSub(locked.Utxo.Amount)
		if !ok {
			return fmt.Errorf("prune: balance underflow removing leaf %d", locked.MembershipProof.AoclLeafIndex)
		}

		err := u.storage.FetchUpdateUtxo(key, func(old []byte, found bool) ([]byte, error) {
			if !found {
				return nil, fmt.Errorf("prune: utxo record for leaf %d vanished before removal", locked.MembershipProof.AoclLeafIndex)
			}
			return nil, nil
		})
		if err != nil {
			return fmt.Errorf("remove spent utxo record: %w", err)
		}
		u.summary = newSummary
		delete(u.utxos, key)

		u.log.Printf("UTXO on leaf index %d is spent (%s).", locked.MembershipProof.AoclLeafIndex, locked.Utxo.Amount)
	}
	return nil
}

// SelectUtxos greedily selects cached UTXOs until their sum covers at
// least target, returning the selected set and the excess over target
// (the change amount a spend needs to return to the wallet). Candidates are
// shuffled before the greedy walk so that which UTXOs get spent together
// does not deterministically follow cache insertion order, the same
// privacy concern rivine's gateway addresses with fastrand.Intn when
// picking a peer to avoid always favoring the same one.
func (u *Utxos) SelectUtxos(target neptune.NativeCurrencyAmount) ([]LockedUtxo, neptune.NativeCurrencyAmount, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	ordered := make([]LockedUtxo, 0, len(u.utxos))
	for _, locked := range u.utxos {
		ordered = append(ordered, locked)
	}
	perm := fastrand.Perm(len(ordered))
	candidates := make([]LockedUtxo, len(ordered))
	for i, j := range perm {
		candidates[i] = ordered[j]
	}

	var selected []LockedUtxo
	total := neptune.AmountFromNau(0)
	for _, locked := range candidates {
		if total.Cmp(target) >= 0 {
			break
		}
		selected = append(selected, locked)
		total = total.Add(locked.Utxo.Amount)
	}
	if total.Cmp(target) < 0 {
		return nil, neptune.NativeCurrencyAmount{}, fmt.Errorf("insufficient funds: have %s, need %s", total, target)
	}
	excess, _ := total.CheckedSub(target)
	return selected, excess, nil
}
