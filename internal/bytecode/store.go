package bytecode

import (
	"fmt"
	"log"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

const bucketChunks = "chunks"

// Record is a persisted cache entry. Data holds the output of Dump.
type Record struct {
	Path        string      `cbor:"path"`
	Fingerprint Fingerprint `cbor:"fp"`
	Origin      Origin      `cbor:"origin"`
	Data        []byte      `cbor:"data"`
	SavedAtMs   int64       `cbor:"saved_at_ms"`
}

// Persister is a second cache tier that survives process restarts.
// Load returns nil, nil when no record exists for path.
type Persister interface {
	Load(path string) (*Record, error)
	Save(rec *Record) error
	Delete(path string) error
	Clear() error
	Paths() ([]string, error)
	Close() error
}

// BoltStore persists compiled chunks in a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bytecode store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketChunks))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize bytecode store: %w", err)
	}

	log.Printf("[Cache] Opened bytecode store at %s", path)
	return &BoltStore{db: db}, nil
}

// Load reads the record for path.
func (s *BoltStore) Load(path string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketChunks)).Get([]byte(path))
		if v == nil {
			return nil
		}
		// v is only valid inside the transaction; Unmarshal copies.
		rec = &Record{}
		return cbor.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", path, err)
	}
	return rec, nil
}

// Save writes rec, replacing any record for the same path.
func (s *BoltStore) Save(rec *Record) error {
	data, err := cborEncMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Path, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketChunks)).Put([]byte(rec.Path), data)
	})
}

// Delete removes the record for path. Deleting a missing record is not an error.
func (s *BoltStore) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketChunks)).Delete([]byte(path))
	})
}

// Clear drops every record.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketChunks)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketChunks))
		return err
	})
}

// Paths lists every persisted path in key order.
func (s *BoltStore) Paths() ([]string, error) {
	var paths []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketChunks)).ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		})
	})
	return paths, err
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
