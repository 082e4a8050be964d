package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSessionName = []byte("session")
	keyCurrent        = []byte("current")
)

// BoltStore keeps the session record in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("fail to create directory %s: %w", filepath.Dir(path), err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessionName)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Save(record SessionRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessionName).Put(keyCurrent, value)
	})
}

func (b *BoltStore) Load() (SessionRecord, error) {
	var record SessionRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketSessionName).Get(keyCurrent)
		if value == nil {
			return ErrNoSession
		}
		// value is only valid inside the transaction
		return json.Unmarshal(value, &record)
	})
	if err != nil {
		return SessionRecord{}, err
	}
	if record.Email == "" {
		return SessionRecord{}, ErrNoSession
	}
	return record, nil
}

func (b *BoltStore) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessionName).Delete(keyCurrent)
	})
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
