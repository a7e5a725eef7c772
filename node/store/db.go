package store

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket-per-concern, mirroring the keyspace BLOCK:{hash}, HEIGHT:{index}->hash,
// TX:{hash}->block hash, LAST->hash, FINAL->hash, SNAPSHOT:{index}.
var (
	bucketBlocks    = []byte("blocks_by_hash")
	bucketHeights   = []byte("hash_by_height")
	bucketTxIndex   = []byte("block_hash_by_tx_hash")
	bucketMeta      = []byte("meta") // LAST, FINAL singleton keys
	bucketSnapshots = []byte("snapshots_by_height")
)

var (
	metaKeyLast  = []byte("LAST")
	metaKeyFinal = []byte("FINAL")
)

// DB is the embedded bbolt-backed KVStore implementation. It satisfies the
// abstract put/get/delete/flush storage backend with bbolt's ACID
// transactions standing in for flush: every Update call is fsync'd to disk
// before it returns.
type DB struct {
	chainDir string
	db       *bolt.DB
	manifest *Manifest
}

func Open(datadir string, chainIDHex string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if chainIDHex == "" {
		return nil, fmt.Errorf("chain_id_hex required")
	}

	chainDir := ChainDir(datadir, chainIDHex)
	if err := ensureDir(chainDir); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Join(chainDir, "db")); err != nil {
		return nil, err
	}

	path := filepath.Join(chainDir, "db", "kv.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &DB{chainDir: chainDir, db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlocks, bucketHeights, bucketTxIndex, bucketMeta, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(chainDir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil // uninitialized chain; caller must InitGenesis.
		}
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

func (d *DB) SetManifest(m *Manifest) error {
	if d == nil {
		return fmt.Errorf("db: nil")
	}
	if err := writeManifestAtomic(d.chainDir, m); err != nil {
		return err
	}
	d.manifest = m
	return nil
}

// PutBlock stores the encoded block under BLOCK:{hash} and indexes
// HEIGHT:{index}->hash plus TX:{txhash}->hash for every transaction it
// carries, in a single atomic transaction.
func (d *DB) PutBlock(hash [32]byte, height uint64, blockBytes []byte, txHashes [][32]byte) error {
	heightKey := heightKeyBytes(height)
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlocks).Put(hash[:], blockBytes); err != nil {
			return err
		}
		if err := tx.Bucket(bucketHeights).Put(heightKey, hash[:]); err != nil {
			return err
		}
		txBucket := tx.Bucket(bucketTxIndex)
		for _, h := range txHashes {
			if err := txBucket.Put(h[:], hash[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetBlockBytes(hash [32]byte) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(hash[:])
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil || out == nil {
		return nil, false, err
	}
	return out, true, nil
}

func (d *DB) GetHashByHeight(height uint64) ([32]byte, bool, error) {
	var out [32]byte
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeights).Get(heightKeyBytes(height))
		if v == nil {
			return nil
		}
		copy(out[:], v)
		found = true
		return nil
	})
	return out, found, err
}

// DeleteHeight removes the HEIGHT index entry for a height that a reorg has
// orphaned. The block itself is left in bucketBlocks (still reachable by
// hash) until pruning decides it is safely behind the finality floor.
func (d *DB) DeleteHeight(height uint64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeights).Delete(heightKeyBytes(height))
	})
}

func (d *DB) GetBlockHashByTx(txHash [32]byte) ([32]byte, bool, error) {
	var out [32]byte
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTxIndex).Get(txHash[:])
		if v == nil {
			return nil
		}
		copy(out[:], v)
		found = true
		return nil
	})
	return out, found, err
}

func (d *DB) SetLast(hash [32]byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyLast, hash[:])
	})
}

func (d *DB) GetLast() ([32]byte, bool, error) {
	return d.getMetaHash(metaKeyLast)
}

func (d *DB) SetFinal(hash [32]byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(metaKeyFinal, hash[:])
	})
}

func (d *DB) GetFinal() ([32]byte, bool, error) {
	return d.getMetaHash(metaKeyFinal)
}

func (d *DB) getMetaHash(key []byte) ([32]byte, bool, error) {
	var out [32]byte
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(key)
		if v == nil {
			return nil
		}
		copy(out[:], v)
		found = true
		return nil
	})
	return out, found, err
}

func (d *DB) PutSnapshot(height uint64, snapshotBytes []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(heightKeyBytes(height), snapshotBytes)
	})
}

func (d *DB) GetSnapshot(height uint64) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get(heightKeyBytes(height))
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil || out == nil {
		return nil, false, err
	}
	return out, true, nil
}

// PruneBlock deletes a block record whose height has fallen behind
// finality by more than the configured safety margin. The manifest and
// meta entries are untouched; this only reclaims body storage.
func (d *DB) PruneBlock(hash [32]byte) error {
	if err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Delete(hash[:])
	}); err != nil {
		return fmt.Errorf("prune block %s: %w", hex32(hash), err)
	}
	return nil
}

func heightKeyBytes(height uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], height)
	return b[:]
}

func hex32(b32 [32]byte) string {
	return hex.EncodeToString(b32[:])
}
