package wallet

import (
	"context"
	"fmt"

	"github.com/kelp-wallet/kelp/internal/logging"
	"github.com/kelp-wallet/kelp/internal/neptune"
	"github.com/kelp-wallet/kelp/internal/rpc"
	"github.com/kelp-wallet/kelp/internal/storage"
)

// Scanner walks the chain block by block from the wallet's persisted tip
// up to the node's current height, recovering any UTXOs addressed to keys
// this wallet holds.
type Scanner struct {
	client  rpc.RemoteNode
	storage *storage.Storage
	keys    *Keys
	utxos   *Utxos
	log     *logging.Logger
}

// NewScanner constructs a Scanner over the given collaborators.
func NewScanner(client rpc.RemoteNode, st *storage.Storage, keys *Keys, utxos *Utxos, log *logging.Logger) *Scanner {
	return &Scanner{
		client:  client,
		storage: st,
		keys:    keys,
		utxos:   utxos,
		log:     log.WithComponent("scanner"),
	}
}

// Scan scans every block from the wallet's persisted tip through the
// node's current height and persists the height after it as the new tip,
// recording every UTXO it recovers along the way, then resyncs every
// cached UTXO's membership proof once the walk is done.
func (s *Scanner) Scan(ctx context.Context) error {
	remoteHeight, err := s.client.Height(ctx)
	if err != nil {
		return fmt.Errorf("fetch remote height: %w", err)
	}

	height, err := s.storage.Height()
	if err != nil {
		return fmt.Errorf("load persisted tip: %w", err)
	}

	tip := height
	for tip <= remoteHeight {
		if err := s.scanBlock(ctx, tip); err != nil {
			return fmt.Errorf("scan block %d: %w", tip, err)
		}
		tip = tip.Next()
	}

	if tip != height {
		if err := s.storage.SetHeight(tip); err != nil {
			return fmt.Errorf("persist tip at %d: %w", tip, err)
		}
	}

	return s.utxos.SyncProofs(ctx)
}

func (s *Scanner) scanBlock(ctx context.Context, height neptune.BlockHeight) error {
	kernel, err := s.client.GetBlockTransactionKernel(ctx, height)
	if err != nil {
		return fmt.Errorf("fetch transaction kernel: %w", err)
	}

	results := s.keys.Scan(kernel.Announcements)
	if len(results) == 0 {
		return nil
	}

	body, err := s.client.GetBlockBody(ctx, height)
	if err != nil {
		return fmt.Errorf("fetch block body: %w", err)
	}
	leafCount := body.MutatorSetAccumulator.AOCL.LeafCount

	for _, result := range results {
		item := result.Utxo.Hash()
		commitment := result.Proof.AdditionRecord(item).CanonicalCommitment

		index := -1
		for i, out := range kernel.Outputs {
			if out.Commitment == commitment {
				index = i
				break
			}
		}
		if index < 0 {
			// A malicious or malformed announcement decrypted successfully
			// but does not correspond to any output in this block. Rather
			// than trust attacker-controlled input enough to index into
			// kernel.Outputs, skip it and move on.
			s.log.Severe("decrypted announcement in block", height, "has no matching output; skipping")
			continue
		}

		s.log.Printf("Found %s on block %d on index %d", commitment.Hex(), height, index)

		// +2: AOCL leaf indices for a block's outputs are assigned after
		// the block's own leaf-count bump and a one-past-the-end offset
		// from the list position, matching the node's own indexing.
		result.Proof.AoclLeafIndex = leafCount - uint64(index) + 2

		if err := s.utxos.Record(result.Utxo, result.Proof); err != nil {
			return fmt.Errorf("record recovered utxo: %w", err)
		}
	}

	return nil
}
