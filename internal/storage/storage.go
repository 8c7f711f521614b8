// Package storage is kelp's persistence layer: a single bbolt database file
// holding three keyspaces (derived keys, cached UTXOs, and wallet
// metadata), wrapped the way rivine's persist.BoltDatabase wraps *bolt.DB
// with a small metadata-checked open path.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "github.com/rivine/bbolt"

	"github.com/kelp-wallet/kelp/internal/neptune"
)

// Header and Version identify this database file's schema, checked on
// every open the way rivine's persist.Metadata is.
const (
	Header  = "kelp Wallet Database"
	Version = "0.1.0"
)

// ErrBadHeader is returned when an existing database file does not carry
// kelp's header.
var ErrBadHeader = errors.New("storage: database has the wrong header")

// ErrBadVersion is returned when an existing database file was written by
// an incompatible version of kelp.
var ErrBadVersion = errors.New("storage: database has the wrong version")

var (
	bucketMetadata = []byte("Metadata")
	bucketKeys     = []byte("Keys")
	bucketUtxos    = []byte("Utxos")
	bucketWallet   = []byte("Wallet")
)

var (
	walletKeyHeight = []byte("Height")
)

var (
	keysKeyGenerationNext = []byte("GenerationNextIndex")
	keysKeySymmetricNext  = []byte("SymmetricNextIndex")
	keysKeyMnemonic       = []byte("Mnemonic")
)

// ErrNoMnemonic is returned by Mnemonic when the wallet has never been
// initialized with a seed phrase.
var ErrNoMnemonic = errors.New("storage: no mnemonic found in storage")

// Storage is kelp's on-disk store: one bbolt database, three keyspaces.
type Storage struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the database at path, verifying or
// writing its header/version metadata.
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketKeys, bucketUtxos, bucketWallet} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMetadata)
		if err != nil {
			return err
		}
		header := meta.Get([]byte("Header"))
		if header == nil {
			if err := meta.Put([]byte("Header"), []byte(Header)); err != nil {
				return err
			}
			return meta.Put([]byte("Version"), []byte(Version))
		}
		if string(header) != Header {
			return ErrBadHeader
		}
		if version := meta.Get([]byte("Version")); string(version) != Version {
			return ErrBadVersion
		}
		return nil
	})
}

// Close releases the underlying database file.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Height returns the wallet's persisted scan tip, defaulting to genesis if
// none has been recorded yet.
func (s *Storage) Height() (neptune.BlockHeight, error) {
	var h neptune.BlockHeight
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketWallet).Get(walletKeyHeight)
		if v == nil {
			h = neptune.Genesis
			return nil
		}
		h = neptune.BlockHeightFromBytes(v)
		return nil
	})
	return h, err
}

// SetHeight persists the wallet's scan tip.
func (s *Storage) SetHeight(h neptune.BlockHeight) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWallet).Put(walletKeyHeight, h.Bytes())
	})
}

// GetKeyCount returns how many keys have been derived for family so far,
// defaulting to 1 if the counter has never been written -- a fresh wallet
// is treated as already having derived index 0, the way the reference
// wallet's Keyspace::get defaults an absent counter to 1 rather than 0.
func (s *Storage) GetKeyCount(family byte) (uint64, error) {
	key := nextIndexKey(family)
	var count uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKeys).Get(key)
		if v == nil {
			count = 1
			return nil
		}
		count = binary.BigEndian.Uint64(v)
		return nil
	})
	return count, err
}

// IncrementKeyCount records that one more key has been derived for family,
// applying the same unwrap_or(1)+1 default as GetKeyCount before adding.
func (s *Storage) IncrementKeyCount(family byte) error {
	key := nextIndexKey(family)
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketKeys)
		v := bucket.Get(key)
		var count uint64
		if v == nil {
			count = 1
		} else {
			count = binary.BigEndian.Uint64(v)
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], count+1)
		return bucket.Put(key, buf[:])
	})
}

func nextIndexKey(family byte) []byte {
	switch family {
	case 0:
		return keysKeyGenerationNext
	default:
		return keysKeySymmetricNext
	}
}

// SetMnemonic persists the wallet's seed phrase. It must be called exactly
// once, the first time a wallet directory is created.
func (s *Storage) SetMnemonic(phrase string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).Put(keysKeyMnemonic, []byte(phrase))
	})
}

// Mnemonic returns the wallet's persisted seed phrase, or ErrNoMnemonic if
// none has been set.
func (s *Storage) Mnemonic() (string, error) {
	var phrase string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKeys).Get(keysKeyMnemonic)
		if v == nil {
			return ErrNoMnemonic
		}
		phrase = string(v)
		return nil
	})
	return phrase, err
}

// UtxoKey identifies a cached UTXO by its AOCL leaf index and commitment
// digest: an 8-byte big-endian index followed by the digest's hex
// encoding, so a bucket scan naturally walks UTXOs in leaf-index order.
type UtxoKey struct {
	LeafIndex uint64
	Digest    neptune.Digest
}

// Bytes encodes the key for bucket storage.
func (k UtxoKey) Bytes() []byte {
	buf := make([]byte, 8, 8+2*neptune.DigestSize)
	binary.BigEndian.PutUint64(buf, k.LeafIndex)
	buf = append(buf, []byte(k.Digest.Hex())...)
	return buf
}

// ParseUtxoKey decodes a UtxoKey previously produced by Bytes.
func ParseUtxoKey(b []byte) (UtxoKey, error) {
	if len(b) < 8 {
		return UtxoKey{}, fmt.Errorf("storage: truncated utxo key (%d bytes)", len(b))
	}
	leafIndex := binary.BigEndian.Uint64(b[:8])
	digest, err := neptune.DigestFromHex(string(b[8:]))
	if err != nil {
		return UtxoKey{}, fmt.Errorf("storage: %w", err)
	}
	return UtxoKey{LeafIndex: leafIndex, Digest: digest}, nil
}

// PutUtxo stores the serialized record for key, returning whether a record
// already existed there.
func (s *Storage) PutUtxo(key UtxoKey, value []byte) (existed bool, err error) {
	kb := key.Bytes()
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketUtxos)
		existed = bucket.Get(kb) != nil
		return bucket.Put(kb, value)
	})
	return existed, err
}

// ForEachUtxo walks every persisted UTXO record in leaf-index order.
func (s *Storage) ForEachUtxo(fn func(key UtxoKey, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUtxos).ForEach(func(k, v []byte) error {
			key, err := ParseUtxoKey(k)
			if err != nil {
				return err
			}
			return fn(key, v)
		})
	})
}

// FetchUpdateUtxo atomically reads the record at key (nil if absent) and
// replaces it with whatever fn returns. If fn returns a nil value, the
// record is deleted instead of rewritten -- this is how Utxos.pruneLocked
// removes a spent UTXO inside the same transaction that decides whether it
// is still present, so a concurrent reader never observes a record that
// has already been subtracted from the balance but not yet deleted.
func (s *Storage) FetchUpdateUtxo(key UtxoKey, fn func(old []byte, found bool) (newValue []byte, err error)) error {
	kb := key.Bytes()
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketUtxos)
		old := bucket.Get(kb)
		newValue, err := fn(old, old != nil)
		if err != nil {
			return err
		}
		if newValue == nil {
			return bucket.Delete(kb)
		}
		return bucket.Put(kb, newValue)
	})
}
