// Package neptune models the collaborator types kelp's wallet engine
// consumes but does not implement: the on-chain digest/hash function, the
// mutator-set accumulator and its membership proofs, UTXOs, announcements,
// and addresses. These are cryptographic primitives owned by the full node
// and the proving stack; kelp only needs their shapes and the handful of
// pure operations (hashing, verification) it runs locally.
package neptune

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

// DigestSize is the width of a Digest in bytes. Neptune itself hashes with
// Tip5 over the BFieldElement lattice; kelp stands that in with blake2b-256,
// the closest real primitive available from the pack's dependency stack.
const DigestSize = 32

// Digest is a fixed-length hash, the domain's basic commitment unit.
type Digest [DigestSize]byte

// HashBytes hashes an arbitrary byte string into a Digest.
func HashBytes(b []byte) Digest {
	return Digest(blake2b.Sum256(b))
}

// HashAll hashes each field in order, each preceded by its length as an
// 8-byte big-endian integer, so that shifting bytes across a field boundary
// changes the digest. It is used to derive spending keys deterministically
// from (seed, family, index) tuples.
func HashAll(fields ...[]byte) Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	var length [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(length[:], uint64(len(f)))
		h.Write(length[:])
		h.Write(f)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Hex renders the digest as a lowercase hex string.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// DigestFromHex parses a hex-encoded digest. It is the inverse of Hex, used
// to recover the digest embedded in a UtxoKey.
func DigestFromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest hex: %w", err)
	}
	if len(b) != DigestSize {
		return Digest{}, fmt.Errorf("invalid digest length: got %d want %d", len(b), DigestSize)
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// IsZero reports whether d is the all-zero digest, used to detect the
// placeholder sender-randomness on change outputs.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// AsLockScript reinterprets d as a LockScript, used to turn a derived
// key's lock-script digest into the opaque script an output carries.
func (d Digest) AsLockScript() LockScript {
	out := make(LockScript, DigestSize)
	copy(out, d[:])
	return out
}

// BlockHeight is a chain height, as reported and consumed across the RPC
// surface. The wallet's persisted tip is the next block it has not yet
// scanned.
type BlockHeight uint64

// Genesis is the initial wallet tip.
const Genesis BlockHeight = 0

// Next returns the height following h.
func (h BlockHeight) Next() BlockHeight { return h + 1 }

// Bytes encodes h as 8-byte big-endian, the on-disk and wire representation.
func (h BlockHeight) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(h))
	return b[:]
}

// BlockHeightFromBytes decodes an 8-byte big-endian height.
func BlockHeightFromBytes(b []byte) BlockHeight {
	return BlockHeight(binary.BigEndian.Uint64(b))
}

// NativeCurrencyAmount is an amount of the chain's native currency,
// measured in "nau" (the smallest indivisible unit), mirroring the
// reference wallet's NativeCurrencyAmount.
type NativeCurrencyAmount struct {
	Nau uint64
}

// AmountFromNau constructs an amount from a raw nau count.
func AmountFromNau(nau uint64) NativeCurrencyAmount {
	return NativeCurrencyAmount{Nau: nau}
}

// Add returns a+b.
func (a NativeCurrencyAmount) Add(b NativeCurrencyAmount) NativeCurrencyAmount {
	return NativeCurrencyAmount{Nau: a.Nau + b.Nau}
}

// CheckedSub returns a-b and true, or the zero value and false if b > a,
// used when pruning a spent UTXO's amount out of the running summary.
func (a NativeCurrencyAmount) CheckedSub(b NativeCurrencyAmount) (NativeCurrencyAmount, bool) {
	if b.Nau > a.Nau {
		return NativeCurrencyAmount{}, false
	}
	return NativeCurrencyAmount{Nau: a.Nau - b.Nau}, true
}

// Cmp compares two amounts the way types.Currency.Cmp does in rivine.
func (a NativeCurrencyAmount) Cmp(b NativeCurrencyAmount) int {
	switch {
	case a.Nau < b.Nau:
		return -1
	case a.Nau > b.Nau:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is zero.
func (a NativeCurrencyAmount) IsZero() bool { return a.Nau == 0 }

// String renders the amount in NPT (10^9 nau), Neptune's convention.
func (a NativeCurrencyAmount) String() string {
	return fmt.Sprintf("%d.%09d NPT", a.Nau/1_000_000_000, a.Nau%1_000_000_000)
}

// LockScript is the opaque, addressable spending condition attached to a
// Utxo's output. kelp only ever compares lock scripts for equality (to find
// the spending key that owns a given UTXO) and never interprets them.
type LockScript []byte

// Utxo is an unspent transaction output: an amount locked behind a script.
type Utxo struct {
	LockScript LockScript
	Amount     NativeCurrencyAmount
}

// Hash returns the UTXO's commitment digest, the value the mutator set's
// membership proofs are keyed on.
func (u Utxo) Hash() Digest {
	buf := make([]byte, 0, len(u.LockScript)+8)
	buf = append(buf, u.LockScript...)
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], u.Amount.Nau)
	buf = append(buf, amt[:]...)
	return HashBytes(buf)
}

// ChunkDictionary is the sliding-window commitment structure a membership
// proof carries, keyed by chunk index.
type ChunkDictionary map[uint64][]byte

// MsMembershipProof proves a UTXO commitment is a member of the current
// mutator set.
type MsMembershipProof struct {
	SenderRandomness Digest
	ReceiverPreimage Digest
	AuthPathAOCL      []Digest
	AoclLeafIndex     uint64
	TargetChunks      ChunkDictionary
}

// NewMockMembershipProof builds the "mock" proof Keys.Scan produces: seeded
// with what decryption yields, empty of any authentication material, to be
// completed later by Utxos.SyncProofs.
func NewMockMembershipProof(senderRandomness, receiverPreimage Digest) MsMembershipProof {
	return MsMembershipProof{
		SenderRandomness: senderRandomness,
		ReceiverPreimage: receiverPreimage,
		AuthPathAOCL:      nil,
		AoclLeafIndex:     0,
		TargetChunks:      ChunkDictionary{},
	}
}

// AbsoluteIndexSet is the set of Bloom-filter-like indices a membership
// proof resolves to against a given item digest. The remote node's
// restore_membership_proof call takes one item and proof at a time, not a
// batch of index sets.
type AbsoluteIndexSet struct {
	Item          Digest
	AoclLeafIndex uint64
}

// ComputeIndices derives the absolute index set for this proof against the
// given UTXO commitment digest.
func (p MsMembershipProof) ComputeIndices(item Digest) AbsoluteIndexSet {
	return AbsoluteIndexSet{Item: item, AoclLeafIndex: p.AoclLeafIndex}
}

// AdditionRecord is the canonical commitment a UTXO addition produces once
// its membership proof's randomness is known. The scanner uses it to find
// the recovered UTXO's position among a block's outputs.
type AdditionRecord struct {
	CanonicalCommitment Digest
}

// AdditionRecord derives the canonical commitment for item under this
// (possibly still-mock) membership proof.
func (p MsMembershipProof) AdditionRecord(item Digest) AdditionRecord {
	return AdditionRecord{
		CanonicalCommitment: HashAll(item[:], p.SenderRandomness[:], p.ReceiverPreimage[:]),
	}
}

// AOCL is the append-only commitment list: an MMR-like structure whose
// LeafCount monotonically grows as UTXOs are added.
type AOCL struct {
	LeafCount uint64
}

// MutatorSetAccumulator is the authenticated unspent-set structure; kelp
// only ever calls Verify against snapshots fetched from the remote node.
type MutatorSetAccumulator struct {
	AOCL AOCL
	// root is opaque accumulator state kelp does not interpret locally; the
	// remote node is authoritative for Verify's true cryptographic meaning,
	// so Verify here checks the structural invariant kelp can check on its
	// own: that the proof's recorded leaf index is still within the
	// accumulator's append-only list and that its chunk dictionary has not
	// been marked spent by Revoke.
	root Digest
}

// NewMutatorSetAccumulator constructs an accumulator snapshot as returned
// by restore_membership_proof.
func NewMutatorSetAccumulator(leafCount uint64, root Digest) MutatorSetAccumulator {
	return MutatorSetAccumulator{AOCL: AOCL{LeafCount: leafCount}, root: root}
}

// Verify reports whether itemDigest, under proof, is a member of msa.
func (msa MutatorSetAccumulator) Verify(itemDigest Digest, proof MsMembershipProof) bool {
	if proof.AoclLeafIndex == 0 && proof.AuthPathAOCL == nil {
		// still a mock proof never completed by SyncProofs
		return false
	}
	if proof.AoclLeafIndex >= msa.AOCL.LeafCount {
		return false
	}
	return !msa.isRevoked(itemDigest, proof)
}

func (msa MutatorSetAccumulator) isRevoked(itemDigest Digest, proof MsMembershipProof) bool {
	_, revoked := proof.TargetChunks[revocationMarker]
	_ = itemDigest
	_ = msa.root
	return revoked
}

// revocationMarker is the sentinel chunk-dictionary key a Revoke call
// (simulating a spend) sets to mark a proof as no longer valid. It is
// an implementation detail of the fake RemoteNode used in tests and of
// in-memory reference accumulators; production accumulators communicate
// this purely through leaf-index bookkeeping on the node side.
const revocationMarker = ^uint64(0)

// Revoke marks proof as spent within a locally-held accumulator snapshot;
// used by test doubles to simulate a spend between two sync_proofs calls.
func (p *MsMembershipProof) Revoke() {
	if p.TargetChunks == nil {
		p.TargetChunks = ChunkDictionary{}
	}
	p.TargetChunks[revocationMarker] = []byte{1}
}

// ReceivingAddress is a derived key's externally shareable receiving
// address.
type ReceivingAddress struct {
	SpendingLockDigest Digest
}

// receivingAddressHRP is the bech32m human-readable part kelp addresses
// are tagged with, distinguishing them at a glance from Bitcoin/Decred
// segwit addresses that share the same encoding scheme.
const receivingAddressHRP = "npt"

// String renders the address as a bech32m string (BIP-350), the same role
// rivine's hand-rolled UnlockHash.String() plays for its own addresses, but
// produced with the checksum encoding other UTXO-chain wallets in the pack
// use for derived-key addresses instead of rivine's hex-plus-truncated-hash
// format.
func (a ReceivingAddress) String() string {
	data, err := bech32.ConvertBits(a.SpendingLockDigest[:], 8, 5, true)
	if err != nil {
		panic(fmt.Sprintf("convert receiving address bits: %v", err))
	}
	addr, err := bech32.EncodeM(receivingAddressHRP, data)
	if err != nil {
		panic(fmt.Sprintf("encode receiving address: %v", err))
	}
	return addr
}

// ParseReceivingAddress recovers an address from its bech32m string form,
// the inverse of String, rejecting a corrupted, foreign-chain, or
// legacy-bech32 address the way rivine's LoadString rejects a bad
// checksum.
func ParseReceivingAddress(s string) (ReceivingAddress, error) {
	hrp, data, encoding, err := bech32.DecodeGeneric(s)
	if err != nil {
		return ReceivingAddress{}, fmt.Errorf("invalid receiving address: %w", err)
	}
	if encoding != bech32.Bech32m {
		return ReceivingAddress{}, fmt.Errorf("invalid receiving address: not bech32m encoded")
	}
	if hrp != receivingAddressHRP {
		return ReceivingAddress{}, fmt.Errorf("invalid receiving address: wrong prefix %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return ReceivingAddress{}, fmt.Errorf("invalid receiving address: %w", err)
	}
	if len(decoded) != DigestSize {
		return ReceivingAddress{}, fmt.Errorf("invalid receiving address: wrong length %d", len(decoded))
	}
	var digest Digest
	copy(digest[:], decoded)
	return ReceivingAddress{SpendingLockDigest: digest}, nil
}

// Announcement is a per-transaction blob of field elements carrying an
// encrypted payment note. Element 0 is the family tag, element 1 is the
// receiver identifier, elements 2... are ciphertext.
type Announcement struct {
	Message []uint64
}

// FamilyTag returns the announcement's family tag (element 0), or false if
// the announcement is empty.
func (a Announcement) FamilyTag() (uint64, bool) {
	if len(a.Message) < 1 {
		return 0, false
	}
	return a.Message[0], true
}

// ReceiverIdentifier returns the announcement's receiver identifier
// (element 1), or false if absent.
func (a Announcement) ReceiverIdentifier() (uint64, bool) {
	if len(a.Message) < 2 {
		return 0, false
	}
	return a.Message[1], true
}

// Ciphertext returns the announcement's ciphertext (elements 2...). An
// announcement with fewer than 3 elements has no ciphertext.
func (a Announcement) Ciphertext() ([]uint64, bool) {
	if len(a.Message) < 3 {
		return nil, false
	}
	return a.Message[2:], true
}

// TransactionOutput is one output of a transaction kernel: a commitment
// the scanner searches for a recovered announcement's canonical commitment.
type TransactionOutput struct {
	Commitment Digest
}

// TransactionKernel is the public header of a transaction.
type TransactionKernel struct {
	Announcements []Announcement
	Outputs       []TransactionOutput
	Fee           NativeCurrencyAmount
	Timestamp     uint64
}

// MastHash returns the kernel's Merkelized Abstract Syntax Tree hash, the
// public input several proofs are built against.
func (k TransactionKernel) MastHash() Digest {
	buf := make([]byte, 0, 8*len(k.Outputs))
	for _, o := range k.Outputs {
		buf = append(buf, o.Commitment[:]...)
	}
	return HashBytes(buf)
}

// BlockBody carries the mutator-set accumulator snapshot embedded in a
// block, as returned by get_block_body.
type BlockBody struct {
	MutatorSetAccumulator MutatorSetAccumulator
}

// ProofCollection bundles the six STARK proofs a spending transaction must
// carry before a full node will accept it into its mempool. kelp does not
// generate these proofs itself -- a Prover collaborator does -- but it is
// responsible for driving the collaborator through the stages in order and
// assembling their output into the shape SubmitTransaction sends over the
// wire.
type ProofCollection struct {
	RemovalRecordsIntegrity []byte
	CollectLockScripts      []byte
	KernelToOutputs         []byte
	CollectTypeScripts      []byte
	LockScriptProofs        [][]byte
	TypeScriptProofs        [][]byte
}

// Prover is the STARK-proving collaborator kelp's transaction builder
// drives through the six proof stages. A real prover is a heavyweight,
// long-running external process or service; kelp only needs to call it in
// the right order with the right public inputs and must never do so on a
// goroutine anything else is blocked waiting on.
type Prover interface {
	// ProveRemovalRecordsIntegrity proves the transaction's removal
	// records correctly reflect UTXOs being spent.
	ProveRemovalRecordsIntegrity(ctx context.Context, kernel TransactionKernel, inputs []Utxo) ([]byte, error)

	// ProveCollectLockScripts proves the set of lock scripts attached to
	// the spent inputs.
	ProveCollectLockScripts(ctx context.Context, kernel TransactionKernel, inputs []Utxo) ([]byte, error)

	// ProveKernelToOutputs proves the kernel's outputs match the
	// transaction details' requested outputs.
	ProveKernelToOutputs(ctx context.Context, kernel TransactionKernel, outputs []Utxo) ([]byte, error)

	// ProveCollectTypeScripts proves the set of type scripts governing the
	// transaction's inputs and outputs.
	ProveCollectTypeScripts(ctx context.Context, kernel TransactionKernel, inputs, outputs []Utxo) ([]byte, error)

	// ProveLockScript proves one input's lock script is satisfied. The
	// public input is the hash of the kernel's MAST hash bytes, reversed.
	ProveLockScript(ctx context.Context, publicInput Digest, lockScript LockScript) ([]byte, error)

	// ProveTypeScript proves one type script's invariants hold. The public
	// input is the hash of the concatenation of the kernel's MAST hash, the
	// salted hash of the transaction's inputs, and the salted hash of its
	// outputs, each with its bytes reversed.
	ProveTypeScript(ctx context.Context, publicInput Digest, typeScript LockScript) ([]byte, error)
}

// SaltedHash combines a digest with a per-transaction salt the way the
// salted-inputs and salted-outputs hashes feeding ProveTypeScript's public
// input are built.
func SaltedHash(salt Digest, items []Digest) Digest {
	buf := make([]byte, 0, DigestSize*(len(items)+1))
	buf = append(buf, salt[:]...)
	for _, it := range items {
		buf = append(buf, it[:]...)
	}
	return HashBytes(buf)
}

// ReversedBytes returns a copy of d's bytes in reverse order, the
// little/big-endian flip the reference prover's public-input convention
// requires.
func (d Digest) ReversedBytes() []byte {
	out := make([]byte, DigestSize)
	for i := 0; i < DigestSize; i++ {
		out[i] = d[DigestSize-1-i]
	}
	return out
}
