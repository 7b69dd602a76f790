package fscrypt

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// ContextsBucket holds one record per object key
var ContextsBucket = []byte("contexts")

// BoltStore provides bbolt-based storage for context records. Each write is
// a single transaction, so a record is never observed half written.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates a record database
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, NewIOError("open", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(ContextsBucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", ContextsBucket, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, NewIOError("open", path, err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetContext reads the record for key
func (s *BoltStore) GetContext(key string, buf []byte) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(ContextsBucket).Get([]byte(key))
		if data == nil {
			return ErrNoContext
		}
		if len(data) > len(buf) {
			return ErrContextRange
		}
		// data is only valid during the transaction
		n = copy(buf, data)
		return nil
	})
	if err == ErrNoContext || err == ErrContextRange {
		return 0, err
	}
	if err != nil {
		return 0, NewIOError("get_context", key, err)
	}
	return n, nil
}

// SetContext stores a new record for key
func (s *BoltStore) SetContext(key string, data []byte, fsData any) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ContextsBucket)
		if b.Get([]byte(key)) != nil {
			return ErrAlreadyExists
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return NewIOError("set_context", key, err)
	}
	return nil
}

// RemoveContext deletes the record for key
func (s *BoltStore) RemoveContext(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(ContextsBucket).Delete([]byte(key))
	})
	if err != nil {
		return NewIOError("remove_context", key, err)
	}
	return nil
}

// Keys lists every object key with a record
func (s *BoltStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ContextsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, NewIOError("keys", "", err)
	}
	return keys, nil
}
