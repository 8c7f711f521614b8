// Package walletseed turns a BIP-39 mnemonic into the deterministic key
// material kelp derives its two spending-key families from. It plays the
// role rivine's modules/wallet seed.go plays for that wallet: one hash-based
// KDF step (crypto.HashAll(seed, index) -> GenerateKeyPairDeterministic),
// generalized here to also fold in a family tag so Generation and Symmetric
// keys never collide even at the same index.
package walletseed

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

// EntropySize is the width, in bytes, of the seed entropy kelp derives
// every key from. 256 bits of entropy yields a 24-word mnemonic.
const EntropySize = 32

// Seed is the wallet's root entropy, recovered from or encoded as a
// mnemonic phrase.
type Seed [EntropySize]byte

// KeyFamily distinguishes the two independent key hierarchies kelp
// derives: Generation keys (used for regular payments, lattice-based
// receiver identifiers) and Symmetric keys (used for change and
// self-payments, cheaper to scan for).
type KeyFamily byte

const (
	// Generation is the family used for externally shared receiving
	// addresses.
	Generation KeyFamily = iota
	// Symmetric is the family used for change outputs and other
	// wallet-internal payments.
	Symmetric
)

// String renders the family name the way log lines and the console report
// it.
func (f KeyFamily) String() string {
	switch f {
	case Generation:
		return "generation"
	case Symmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// NewRandomSeed generates a fresh, cryptographically random seed. kelpd
// itself does not call it: a fresh wallet is initialized from a supplied
// mnemonic.
func NewRandomSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("generate seed entropy: %w", err)
	}
	return s, nil
}

// NewMnemonic encodes seed as a BIP-39 mnemonic phrase.
func NewMnemonic(seed Seed) (string, error) {
	phrase, err := bip39.NewMnemonic(seed[:])
	if err != nil {
		return "", fmt.Errorf("encode mnemonic: %w", err)
	}
	return phrase, nil
}

// ParseMnemonic recovers the seed entropy backing a mnemonic phrase. It
// returns an error if the phrase's checksum word does not match its
// entropy, the same validation rivine's wallet performs when a 1-of-N seed
// phrase is typed in during recovery.
func ParseMnemonic(phrase string) (Seed, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return Seed{}, errors.New("invalid mnemonic: bad word or checksum")
	}
	entropy, err := bip39.EntropyFromMnemonic(phrase)
	if err != nil {
		return Seed{}, fmt.Errorf("decode mnemonic: %w", err)
	}
	if len(entropy) != EntropySize {
		return Seed{}, fmt.Errorf("unexpected entropy length: got %d want %d", len(entropy), EntropySize)
	}
	var s Seed
	copy(s[:], entropy)
	return s, nil
}

// SpendingKey is the key material derived for one (family, index) pair: an
// ed25519 keypair plus the lock-script digest its owned UTXOs carry.
type SpendingKey struct {
	Family     KeyFamily
	Index      uint64
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// LockScriptDigest returns the digest kelp matches against a UTXO's lock
// script to decide whether this key can spend it.
func (k SpendingKey) LockScriptDigest() neptune.Digest {
	return neptune.HashBytes(k.PublicKey)
}

// ReceivingAddress returns the address this key would be shared as, for the
// "address" console command.
func (k SpendingKey) ReceivingAddress() neptune.ReceivingAddress {
	return neptune.ReceivingAddress{SpendingLockDigest: k.LockScriptDigest()}
}

// ReceiverIdentifier is the tag a payment announcement addressed to k
// carries in its second field element, letting Keys.Scan cheaply reject
// announcements meant for other keys before attempting decryption.
func (k SpendingKey) ReceiverIdentifier() uint64 {
	d := neptune.HashBytes(k.PublicKey)
	return binary.BigEndian.Uint64(d[:8])
}

// PrivacyPreimage is the secret used as a membership proof's
// receiver_preimage. It is derived from k's private key under its own
// label, separately from the symmetric key announcements addressed to k are
// encrypted under (see announcementKey).
func (k SpendingKey) PrivacyPreimage() neptune.Digest {
	return neptune.HashAll(k.PrivateKey, []byte("kelp-privacy-preimage"))
}

func (k SpendingKey) announcementKey() *[32]byte {
	d := neptune.HashAll(k.PrivateKey, []byte("kelp-announcement-key"))
	return (*[32]byte)(&d)
}

// announcementPayload is the plaintext note a payment announcement
// resolves to once decrypted: the paid UTXO and the sender randomness its
// membership proof needs.
type announcementPayload struct {
	LockScript       neptune.LockScript `json:"lock_script"`
	AmountNau        uint64             `json:"amount_nau"`
	SenderRandomness neptune.Digest     `json:"sender_randomness"`
}

// fieldElementsToBytes packs a ciphertext expressed as field elements into
// its byte representation: each element is 8 bytes, big-endian.
func fieldElementsToBytes(elements []uint64) []byte {
	buf := make([]byte, 8*len(elements))
	for i, e := range elements {
		binary.BigEndian.PutUint64(buf[i*8:], e)
	}
	return buf
}

func bytesToFieldElements(b []byte) []uint64 {
	n := len(b) / 8
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint64(b[i*8 : i*8+8])
	}
	return out
}

// EncryptNote encrypts payload for k, returning the field elements a
// payment announcement addressed to k would carry after its receiver
// identifier. Used by tests to construct fixtures a Keys.Scan can recover.
func (k SpendingKey) EncryptNote(lockScript neptune.LockScript, amount neptune.NativeCurrencyAmount, senderRandomness neptune.Digest) ([]uint64, error) {
	plaintext, err := json.Marshal(announcementPayload{
		LockScript:       lockScript,
		AmountNau:        amount.Nau,
		SenderRandomness: senderRandomness,
	})
	if err != nil {
		return nil, fmt.Errorf("encode announcement payload: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	key := k.announcementKey()
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)

	// secretbox output is not a multiple of 8 bytes in general; pad with
	// zero bytes and record the true length as the first field element so
	// the decrypting side can trim it back off.
	padded := make([]byte, 8+len(sealed))
	binary.BigEndian.PutUint64(padded[:8], uint64(len(sealed)))
	copy(padded[8:], sealed)
	for len(padded)%8 != 0 {
		padded = append(padded, 0)
	}
	return bytesToFieldElements(padded), nil
}

// Decrypt attempts to recover the UTXO and sender randomness behind a
// ciphertext extracted from an announcement. It fails if ciphertext was not
// encrypted for k.
func (k SpendingKey) Decrypt(ciphertext []uint64) (neptune.Utxo, neptune.Digest, error) {
	raw := fieldElementsToBytes(ciphertext)
	if len(raw) < 8 {
		return neptune.Utxo{}, neptune.Digest{}, errors.New("ciphertext too short")
	}
	sealedLen := binary.BigEndian.Uint64(raw[:8])
	raw = raw[8:]
	if uint64(len(raw)) < sealedLen {
		return neptune.Utxo{}, neptune.Digest{}, errors.New("ciphertext truncated")
	}
	sealed := raw[:sealedLen]
	if len(sealed) < 24 {
		return neptune.Utxo{}, neptune.Digest{}, errors.New("ciphertext missing nonce")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	key := k.announcementKey()

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return neptune.Utxo{}, neptune.Digest{}, errors.New("decryption failed: not addressed to this key")
	}

	var payload announcementPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return neptune.Utxo{}, neptune.Digest{}, fmt.Errorf("decode announcement payload: %w", err)
	}
	utxo := neptune.Utxo{
		LockScript: payload.LockScript,
		Amount:     neptune.AmountFromNau(payload.AmountNau),
	}
	return utxo, payload.SenderRandomness, nil
}

// Derive generates the keypair for seed at (family, index), the
// generalized form of rivine's generateSpendableKey: instead of hashing
// just (seed, index), it also folds in the family tag so the two
// hierarchies never overlap.
func Derive(seed Seed, family KeyFamily, index uint64) (SpendingKey, error) {
	var idxBytes [8]byte
	binary.BigEndian.PutUint64(idxBytes[:], index)
	h := neptune.HashAll(seed[:], []byte{byte(family)}, idxBytes[:])

	pub, priv, err := ed25519.GenerateKey(bytes.NewReader(h[:]))
	if err != nil {
		return SpendingKey{}, fmt.Errorf("derive %s key %d: %w", family, index, err)
	}
	return SpendingKey{
		Family:     family,
		Index:      index,
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}
