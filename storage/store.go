package storage

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"

	"github.com/boltdb/bolt"

	"ipahook/common"
)

// Store keeps a record of every completed patch and revert run, keyed by
// record ID.
type Store struct {
	db *bolt.DB
}

var (
	ErrNotFound = errors.New("store: record not found")
	bucketName  = []byte("records")
)

// Open opens (or creates) the record database at path.
func Open(path string) (*Store, error) {
	opts := &bolt.Options{
		Timeout: 50 * time.Millisecond,
	}
	db, err := bolt.Open(path, 0640, opts)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Put saves a record under its ID, overwriting any previous version.
func (s *Store) Put(rec common.PatchRecord) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(rec.ID), buf.Bytes())
	})
}

// Get returns the record stored under id.
func (s *Store) Get(id string) (common.PatchRecord, error) {
	var rec common.PatchRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		return gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec)
	})
	return rec, err
}

// List returns every stored record in key order.
func (s *Store) List() ([]common.PatchRecord, error) {
	var records []common.PatchRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(_, raw []byte) error {
			var rec common.PatchRecord
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
