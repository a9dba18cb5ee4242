// Package infostore keeps info dictionaries received from peers in a Bolt database,
// so metadata does not have to be downloaded again.
package infostore

import (
	"crypto/sha1" // nolint: gosec
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/peerwire/internal/metainfo"
	"go.etcd.io/bbolt"
)

var bucketName = []byte("info")

// ErrNotFound is returned when there is no info for the hash in the store.
var ErrNotFound = errors.New("info not found")

// Store contains methods for saving and loading info dictionaries keyed by their hash.
type Store struct {
	db *bbolt.DB
}

// Open the database at path, creating it if needed.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o640, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(bucketName)
		return err2
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put validates b as an info dictionary and saves it under its hash.
func (s *Store) Put(b []byte) (*metainfo.Info, error) {
	info, err := metainfo.NewInfo(b)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(info.Hash[:], info.Bytes)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Get returns the info with hash.
func (s *Store) Get(hash [sha1.Size]byte) (*metainfo.Info, error) {
	var b []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(hash[:])
		if v == nil {
			return ErrNotFound
		}
		// Value is only valid during the transaction.
		b = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	info, err := metainfo.NewInfo(b)
	if err != nil {
		return nil, fmt.Errorf("stored info for %s is invalid: %w", hex.EncodeToString(hash[:]), err)
	}
	return info, nil
}

// Has returns true if there is info with hash.
func (s *Store) Has(hash [sha1.Size]byte) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketName).Get(hash[:]) != nil
		return nil
	})
	return ok, err
}

// List returns the hashes of all stored info dictionaries.
func (s *Store) List() ([][sha1.Size]byte, error) {
	var hashes [][sha1.Size]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			if len(k) != sha1.Size {
				return fmt.Errorf("invalid key in store: %x", k)
			}
			var h [sha1.Size]byte
			copy(h[:], k)
			hashes = append(hashes, h)
			return nil
		})
	})
	return hashes, err
}

// Delete removes the info with hash. Deleting a missing info is not an error.
func (s *Store) Delete(hash [sha1.Size]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(hash[:])
	})
}
